package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mealplan/internal/safepath"
)

var flyerExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// CollectRequest carries the run fields a collector may use.
type CollectRequest struct {
	PostalCode string
	Headless   bool
	// Progress publishes a status message for the run. May be nil.
	Progress func(message string) error
}

func (r CollectRequest) report(message string) error {
	if r.Progress == nil {
		return nil
	}
	return r.Progress(message)
}

// Collector produces the flyer page images for a run, sorted in page order.
type Collector interface {
	Name() string
	Collect(ctx context.Context, req CollectRequest) ([]string, error)
}

// LocalCollector reads flyer pages someone already placed in Dir.
type LocalCollector struct {
	Dir string
}

func (c LocalCollector) Name() string { return "local" }

func (c LocalCollector) Collect(_ context.Context, req CollectRequest) ([]string, error) {
	if err := req.report(StatusCollecting); err != nil {
		return nil, err
	}
	return CollectFlyers(c.Dir)
}

// CollectFlyers lists the flyer images in dir sorted by name. Entries that
// resolve outside dir or through a symlink are skipped. A missing dir yields
// no images.
func CollectFlyers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read flyer dir: %w", err)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !flyerExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path, err := safepath.Within(dir, entry.Name())
		if err != nil {
			slog.Warn("skipping flyer", "name", entry.Name(), "err", err)
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}
