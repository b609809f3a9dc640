package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"mealplan/internal/db"
)

// Runner executes one claimed run to a terminal state.
type Runner interface {
	Run(ctx context.Context, runID string) error
}

// Pool manages N worker goroutines that process queued runs. The run
// channel is a wake-up hint only; sqlite stays authoritative and runs are
// always claimed from the store.
type Pool struct {
	n         int
	store     *db.Store
	runner    Runner
	runCh     <-chan string
	pollEvery time.Duration
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

func NewPool(n int, store *db.Store, runner Runner, runCh <-chan string) *Pool {
	return &Pool{
		n:         max(n, 1),
		store:     store,
		runner:    runner,
		runCh:     runCh,
		pollEvery: 5 * time.Second,
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	slog.Debug("worker started", "id", id)

	poll := time.NewTicker(p.pollEvery)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("worker stopping", "id", id)
			return
		case _, ok := <-p.runCh:
			if !ok {
				return
			}
			p.processNext(ctx, id)
		case <-poll.C:
			p.processNext(ctx, id)
		}
	}
}

// processNext claims the oldest queued run, if any, and runs it.
func (p *Pool) processNext(ctx context.Context, workerID int) {
	runID, err := p.store.ClaimRun(ctx)
	if err != nil {
		slog.Error("claim run failed", "err", err)
		return
	}
	if runID == "" {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panic", "worker", workerID, "run", db.ShortID(runID), "panic", r, "stack", string(debug.Stack()))
			failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := p.store.FailRun(failCtx, runID, fmt.Sprintf("worker panic: %v", r)); err != nil {
				slog.Error("mark panicked run failed", "run", db.ShortID(runID), "err", err)
			}
		}
	}()

	slog.Info("worker processing run", "worker", workerID, "run", db.ShortID(runID))
	if err := p.runner.Run(ctx, runID); err != nil {
		slog.Error("run failed", "run", db.ShortID(runID), "err", err)
	}
}
