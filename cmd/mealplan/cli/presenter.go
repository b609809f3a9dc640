package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"mealplan/internal/api"
	"mealplan/internal/render"
)

type resultsFetcher interface {
	Recommendations(ctx context.Context) (api.Recommendations, error)
}

// linePresenter prints synchronizer effects as lines of output and reports
// each terminal job outcome on done.
type linePresenter struct {
	client resultsFetcher
	out    io.Writer
	asJSON bool
	width  int
	log    *slog.Logger

	mu   sync.Mutex
	last string
	done chan error
}

func newLinePresenter(client resultsFetcher, out io.Writer) *linePresenter {
	return &linePresenter{client: client, out: out, asJSON: jsonOut, width: 80, log: slog.Default(), done: make(chan error, 1)}
}

func (p *linePresenter) ShowProgress(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text == p.last {
		return
	}
	p.last = text
	if !p.asJSON {
		fmt.Fprintf(p.out, "• %s\n", text)
	}
}

func (p *linePresenter) SetBusy(busy bool) {
	if !busy {
		p.mu.Lock()
		p.last = ""
		p.mu.Unlock()
	}
}

func (p *linePresenter) RenderResults(ctx context.Context) {
	rec, err := p.client.Recommendations(ctx)
	if err != nil {
		fmt.Fprintln(p.out, render.LoadFailedText)
		return
	}
	if p.asJSON {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			p.log.Warn("write recommendations failed", "err", err)
		}
		return
	}
	fmt.Fprintln(p.out, render.Results(rec, p.width))
}

func (p *linePresenter) NotifySuccess(text string) {
	if !p.asJSON {
		fmt.Fprintln(p.out, text)
	}
	p.finish(nil)
}

func (p *linePresenter) NotifyError(text string) {
	p.finish(errors.New(text))
}

// finish keeps only the newest unread outcome.
func (p *linePresenter) finish(err error) {
	select {
	case <-p.done:
	default:
	}
	p.done <- err
}
