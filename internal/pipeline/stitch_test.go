package pipeline

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func TestGridSize(t *testing.T) {
	t.Parallel()
	tests := []struct{ n, cols, rows int }{
		{0, 0, 0},
		{1, 1, 1},
		{2, 2, 1},
		{3, 2, 2},
		{4, 2, 2},
		{5, 3, 2},
		{9, 3, 3},
		{10, 4, 3},
	}
	for _, tt := range tests {
		cols, rows := GridSize(tt.n)
		if cols != tt.cols || rows != tt.rows {
			t.Fatalf("GridSize(%d) = %d,%d want %d,%d", tt.n, cols, rows, tt.cols, tt.rows)
		}
	}
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestStitchImagesCentersInCells(t *testing.T) {
	t.Parallel()
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	canvas := StitchImages([]image.Image{solid(2, 2, red), solid(4, 4, blue)})

	if got := canvas.Bounds(); got != image.Rect(0, 0, 8, 4) {
		t.Fatalf("unexpected canvas %v", got)
	}
	checks := []struct {
		x, y int
		want color.RGBA
	}{
		{0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255}},
		{1, 1, red},
		{2, 2, red},
		{3, 3, color.RGBA{R: 255, G: 255, B: 255, A: 255}},
		{4, 0, blue},
		{7, 3, blue},
	}
	for _, c := range checks {
		if got := canvas.RGBAAt(c.x, c.y); got != c.want {
			t.Fatalf("pixel (%d,%d) = %v, want %v", c.x, c.y, got, c.want)
		}
	}
}

func TestStitchWritesJPEG(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	files := []string{filepath.Join(dir, "2.png"), filepath.Join(dir, "1.png"), filepath.Join(dir, "3.png")}
	for _, f := range files {
		writePNG(t, f, 10, 20, color.RGBA{G: 128, A: 255})
	}
	dst := filepath.Join(dir, "out.jpg")
	if err := Stitch(files, dst); err != nil {
		t.Fatalf("stitch: %v", err)
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got := img.Bounds(); got.Dx() != 20 || got.Dy() != 40 {
		t.Fatalf("expected 2x2 grid of 10x20 cells, got %v", got)
	}
}

func TestStitchRejectsBadInput(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := Stitch(nil, filepath.Join(dir, "out.jpg")); err == nil {
		t.Fatal("expected error for no images")
	}
	bad := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Stitch([]string{bad}, filepath.Join(dir, "out.jpg")); err == nil {
		t.Fatal("expected decode error")
	}
}
