package pipeline

import (
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mealplan/internal/db"
	"mealplan/internal/httputil"
	"mealplan/internal/llm"
)

type stubCollector struct {
	files []string
	err   error
	reqs  []CollectRequest
}

func (c *stubCollector) Name() string { return "stub" }

func (c *stubCollector) Collect(_ context.Context, req CollectRequest) ([]string, error) {
	c.reqs = append(c.reqs, CollectRequest{PostalCode: req.PostalCode, Headless: req.Headless})
	if err := req.report(StatusCollecting); err != nil {
		return nil, err
	}
	return c.files, c.err
}

func TestFilterFlyerURLs(t *testing.T) {
	t.Parallel()
	got := FilterFlyerURLs([]string{
		"https://f.wishabi.net/page/1/extra_large_1.jpg",
		"https://f.wishabi.net/page/1/large_1.jpg",
		"https://f.wishabi.net/page/2/EXTRA_LARGE_2.JPEG",
		"https://f.wishabi.net/page/1/extra_large_1.jpg",
		"https://f.wishabi.net/page/3/extra_large_3.webp",
		" https://f.wishabi.net/page/4/extra_large_4.jpg ",
	})
	want := []string{
		"https://f.wishabi.net/page/1/extra_large_1.jpg",
		"https://f.wishabi.net/page/2/EXTRA_LARGE_2.JPEG",
		"https://f.wishabi.net/page/4/extra_large_4.jpg",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("filtered urls mismatch (-want +got):\n%s", diff)
	}
}

func TestDownloaderSavesPagesInOrderAndSkipsFailures(t *testing.T) {
	t.Parallel()
	var referer atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer.Store(r.Header.Get("Referer"))
		if strings.HasSuffix(r.URL.Path, "missing.jpg") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("jpeg:" + r.URL.Path))
	}))
	defer srv.Close()

	dir := t.TempDir()
	stale := filepath.Join(dir, "flyer_page_09.jpg")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write stale page: %v", err)
	}

	d := NewDownloader(dir, 2)
	d.Client = srv.Client()
	d.Retry = httputil.NoRetry()
	got, err := d.Download(context.Background(), []string{
		srv.URL + "/a.jpg",
		srv.URL + "/missing.jpg",
		srv.URL + "/c.jpg",
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}

	want := []string{filepath.Join(dir, "flyer_page_01.jpg"), filepath.Join(dir, "flyer_page_03.jpg")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("saved pages mismatch (-want +got):\n%s", diff)
	}
	body, err := os.ReadFile(want[1])
	if err != nil || string(body) != "jpeg:/c.jpg" {
		t.Fatalf("unexpected page 3 content %q, %v", body, err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale page removed, stat err %v", err)
	}
	if got := referer.Load(); got != "https://flipp.com/" {
		t.Fatalf("expected flipp referer, got %v", got)
	}
}

func TestDownloaderHonorsCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDownloader(t.TempDir(), 1)
	d.Retry = httputil.NoRetry()
	if _, err := d.Download(ctx, []string{"http://127.0.0.1:1/a.jpg"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestFlippCollectorPassesPostalCodeAndHeadless(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("page"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(dir, 4)
	d.Client = srv.Client()
	c := NewFlippCollector(BrowserOptions{Headless: true}, d)
	var gotPostal string
	var gotHeadless bool
	c.discover = func(_ context.Context, opts BrowserOptions, postalCode string) ([]string, error) {
		gotPostal, gotHeadless = postalCode, opts.Headless
		return []string{srv.URL + "/thumb.jpg", srv.URL + "/extra_large_1.jpg"}, nil
	}

	var progress []string
	files, err := c.Collect(context.Background(), CollectRequest{
		PostalCode: "M5V2T6",
		Headless:   false,
		Progress: func(message string) error {
			progress = append(progress, message)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if diff := cmp.Diff([]string{StatusSelectingStore, StatusDownloading}, progress); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}
	if gotPostal != "M5V2T6" || gotHeadless {
		t.Fatalf("unexpected browser call postal=%q headless=%t", gotPostal, gotHeadless)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "flyer_page_01.jpg" {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestFlippCollectorReportsStoreSelectionFailure(t *testing.T) {
	t.Parallel()
	c := NewFlippCollector(BrowserOptions{}, NewDownloader(t.TempDir(), 1))
	c.discover = func(context.Context, BrowserOptions, string) ([]string, error) {
		return nil, errPostalNotSet
	}
	if _, err := c.Collect(context.Background(), CollectRequest{PostalCode: "L6E1T8"}); !errors.Is(err, errPostalNotSet) {
		t.Fatalf("expected postal code failure, got %v", err)
	}
}

func TestRunUsesCollectorWithRunFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupRunner(t, stubProvider{recommend: func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{Text: "plan"}, nil
	}}, db.RunRequest{PostalCode: "K1A0B1", NumPeople: 3, NumMeals: 5, Cuisine: "Thai", Headless: false})
	page := filepath.Join(t.TempDir(), "page.png")
	writePNG(t, page, 4, 3, color.RGBA{B: 200, A: 255})
	collector := &stubCollector{files: []string{page}}
	fx.runner.collector = collector

	if err := fx.runner.Run(ctx, fx.runID); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []CollectRequest{{PostalCode: "K1A0B1", Headless: false}}
	if diff := cmp.Diff(want, collector.reqs); diff != "" {
		t.Fatalf("collect requests mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFailsWhenCollectorFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupRunner(t, stubProvider{recommend: func(context.Context, llm.Request) (llm.Response, error) {
		t.Fatal("llm must not be called")
		return llm.Response{}, nil
	}}, db.RunRequest{})
	fx.runner.collector = &stubCollector{err: errPostalNotSet}

	if err := fx.runner.Run(ctx, fx.runID); err == nil {
		t.Fatal("expected failure")
	}
	run, _ := fx.store.GetRun(ctx, fx.runID)
	if run.State != db.RunError || run.ErrorMessage != "Failed to set postal code" {
		t.Fatalf("unexpected run %s %q", run.State, run.ErrorMessage)
	}
}

func TestLocalCollectorReportsCollecting(t *testing.T) {
	t.Parallel()
	var progress []string
	files, err := LocalCollector{Dir: t.TempDir()}.Collect(context.Background(), CollectRequest{
		Progress: func(message string) error {
			progress = append(progress, message)
			return nil
		},
	})
	if err != nil || len(files) != 0 {
		t.Fatalf("expected no flyers, got %v, %v", files, err)
	}
	if diff := cmp.Diff([]string{StatusCollecting}, progress); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestFlippCollectorStopsWhenProgressFails(t *testing.T) {
	t.Parallel()
	c := NewFlippCollector(BrowserOptions{}, NewDownloader(t.TempDir(), 1))
	c.discover = func(context.Context, BrowserOptions, string) ([]string, error) {
		t.Fatal("browser must not start when the status update fails")
		return nil, nil
	}
	wantErr := errors.New("database is locked")
	_, err := c.Collect(context.Background(), CollectRequest{Progress: func(string) error { return wantErr }})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected progress error, got %v", err)
	}
}
