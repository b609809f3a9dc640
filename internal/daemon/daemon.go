package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"mealplan/internal/config"
	"mealplan/internal/db"
	"mealplan/internal/llm"
	"mealplan/internal/notify"
	"mealplan/internal/pipeline"
	"mealplan/internal/server"
	"mealplan/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Run starts the backend: HTTP API + worker pool + notification dispatcher.
// Blocks until SIGINT/SIGTERM is received.
func Run(cfg *config.Config) error {
	if err := WritePID(cfg.Server.PIDFile); err != nil {
		return err
	}
	defer RemovePID(cfg.Server.PIDFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Force-exit on second signal.
	go func() {
		<-ctx.Done()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Error("second signal received, forcing exit")
		os.Exit(1)
	}()

	return Serve(ctx, cfg, nil)
}

// Serve runs the backend until ctx is cancelled. ready, when non-nil, is
// called with the bound listen address once the API accepts connections.
func Serve(ctx context.Context, cfg *config.Config, ready func(addr string)) error {
	for _, dir := range []string{filepath.Dir(cfg.DBPath), cfg.Server.FlyerDir, cfg.Server.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	// Crash recovery: requeue runs a previous server left processing.
	recovered, err := store.RecoverInFlightRuns(ctx)
	if err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	if recovered > 0 {
		slog.Info("requeued in-flight runs", "count", recovered)
	}

	provider := llm.NewCLIProvider(cfg.LLM.Command, cfg.LLM.Args, cfg.LLM.Deadline())
	runner := pipeline.New(store, provider, cfg)

	// Run channel is a wake-up hint only; sqlite stays authoritative.
	runCh := make(chan string, 16)
	queued, err := store.ListRuns(ctx, db.RunQueued, 0)
	if err != nil {
		return fmt.Errorf("list queued runs: %w", err)
	}
	for _, r := range queued {
		select {
		case runCh <- r.ID:
		default:
		}
	}

	pool := worker.NewPool(cfg.Server.MaxWorkers, store, runner, runCh)
	pool.Start(ctx)

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		pool.Stop()
		return fmt.Errorf("listen on %s: %w", cfg.Server.ListenAddr, err)
	}
	httpSrv := &http.Server{
		Handler:           server.NewServer(cfg, store, runCh),
		ReadHeaderTimeout: 10 * time.Second,
		// Discord sends run inside the request, so the write timeout is generous.
		WriteTimeout: 2 * time.Minute,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("api server starting", "addr", ln.Addr().String())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server error", "err", err)
		}
	}()

	dispatcher := notify.NewDispatcher(store, notify.BuildSenders(cfg.Notifications, nil), cfg.Notifications.Triggers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	slog.Info("server started", "workers", cfg.Server.MaxWorkers, "addr", ln.Addr().String(), "llm", provider.Name())
	if ready != nil {
		ready(ln.Addr().String())
	}

	<-ctx.Done()
	slog.Info("shutdown requested, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = httpSrv.Shutdown(shutdownCtx)
		pool.Stop()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("server stopped")
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}
}
