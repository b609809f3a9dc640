package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"mealplan/internal/httputil"
	"mealplan/internal/safepath"
)

const (
	flyerPagePattern = "flyer_page_*.jpg"
	maxFlyerBytes    = 32 << 20
	browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Downloader fetches flyer page images into Dir with bounded concurrency.
type Downloader struct {
	Client  *http.Client
	Dir     string
	Workers int
	Referer string
	Retry   httputil.RetryConfig
}

func NewDownloader(dir string, workers int) *Downloader {
	return &Downloader{
		Client:  &http.Client{Timeout: 30 * time.Second},
		Dir:     dir,
		Workers: max(workers, 1),
		Referer: flippBaseURL + "/",
		Retry:   httputil.RetryConfig{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

// Download saves urls[i] as flyer_page_<i+1>.jpg and returns the saved
// paths sorted by name. Pages from an earlier download are removed first. A
// page that fails to download is logged and left out.
func (d *Downloader) Download(ctx context.Context, urls []string) ([]string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create flyer dir: %w", err)
	}
	if err := d.clearPages(); err != nil {
		return nil, err
	}

	saved := make([]string, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(d.Workers, 1))
	for i, u := range urls {
		g.Go(func() error {
			name := fmt.Sprintf("flyer_page_%02d.jpg", i+1)
			path, err := d.fetch(gctx, u, name)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("flyer download failed", "page", i+1, "err", err)
				return nil
			}
			saved[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("download flyers: %w", err)
	}

	var out []string
	for _, p := range saved {
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	slog.Debug("downloaded flyers", "requested", len(urls), "saved", len(out))
	return out, nil
}

func (d *Downloader) clearPages() error {
	old, err := filepath.Glob(filepath.Join(d.Dir, flyerPagePattern))
	if err != nil {
		return fmt.Errorf("list old flyer pages: %w", err)
	}
	for _, p := range old {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old flyer page: %w", err)
		}
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL, name string) (string, error) {
	dst, err := safepath.Within(d.Dir, name)
	if err != nil {
		return "", err
	}
	resp, err := httputil.Do(ctx, d.Client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", browserUserAgent)
		if d.Referer != "" {
			req.Header.Set("Referer", d.Referer)
		}
		return req, nil
	}, d.Retry)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(d.Dir, ".flyer-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxFlyerBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if n > maxFlyerBytes {
		return "", fmt.Errorf("%s exceeds %d bytes", name, maxFlyerBytes)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return dst, nil
}
