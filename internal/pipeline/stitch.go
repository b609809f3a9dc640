package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
)

const stitchQuality = 95

// GridSize returns the columns and rows used to lay out n images as close to
// a square as possible.
func GridSize(n int) (cols, rows int) {
	if n <= 0 {
		return 0, 0
	}
	cols = int(math.Ceil(math.Sqrt(float64(n))))
	rows = (n + cols - 1) / cols
	return cols, rows
}

// Stitch combines the images in files, sorted by name, into one JPEG at dst.
// Every cell is as large as the largest image; smaller images are centered
// on a white background.
func Stitch(files []string, dst string) error {
	if len(files) == 0 {
		return fmt.Errorf("no images to stitch")
	}
	files = append([]string(nil), files...)
	sort.Strings(files)

	images := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, err := decodeImage(f)
		if err != nil {
			return err
		}
		images = append(images, img)
	}

	canvas := StitchImages(images)

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".stitch-*.jpg")
	if err != nil {
		return fmt.Errorf("create stitched image: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := jpeg.Encode(tmp, canvas, &jpeg.Options{Quality: stitchQuality}); err != nil {
		tmp.Close()
		return fmt.Errorf("encode stitched image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close stitched image: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("save stitched image: %w", err)
	}
	return nil
}

// StitchImages lays images out in row-major grid order.
func StitchImages(images []image.Image) *image.RGBA {
	cols, rows := GridSize(len(images))
	cellW, cellH := 0, 0
	for _, img := range images {
		b := img.Bounds()
		cellW = max(cellW, b.Dx())
		cellH = max(cellH, b.Dy())
	}

	canvas := image.NewRGBA(image.Rect(0, 0, cellW*cols, cellH*rows))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	for i, img := range images {
		b := img.Bounds()
		x := (i%cols)*cellW + (cellW-b.Dx())/2
		y := (i/cols)*cellH + (cellH-b.Dy())/2
		draw.Draw(canvas, image.Rect(x, y, x+b.Dx(), y+b.Dy()), img, b.Min, draw.Over)
	}
	return canvas
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
