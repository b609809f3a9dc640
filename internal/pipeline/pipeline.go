package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mealplan/internal/config"
	"mealplan/internal/db"
	"mealplan/internal/llm"
	"mealplan/internal/notify"
)

// Status messages shown to clients while a run is processing.
const (
	StatusCollecting     = "Collecting flyer images..."
	StatusSelectingStore = "Setting up browser and postal code..."
	StatusDownloading    = "Downloading flyer images..."
	StatusStitching      = "Stitching flyer images together..."
	StatusAnalyzing      = "Analyzing flyer with LLM..."
	StatusSaving         = "Saving recommendations..."
)

const (
	StitchedFlyerName   = "complete_flyer.jpg"
	RecommendationsName = "recommendations.txt"
)

var (
	errNoFlyers          = errors.New("No flyer images found")
	errNoRecommendations = errors.New("Failed to get recommendations")
)

// ResultsSender delivers a finished meal plan, and optionally the flyer, to
// a chat webhook. It returns the number of messages accepted.
type ResultsSender interface {
	Name() string
	SendRecommendations(ctx context.Context, text, flyerPath string) (int, error)
}

// Runner takes a claimed run from processing to completed or error.
type Runner struct {
	store      *db.Store
	provider   llm.Provider
	cfg        *config.Config
	collector  Collector
	stitch     func(files []string, dst string) error
	newSender  func(webhookURL string) ResultsSender
	sendBudget time.Duration
}

func New(store *db.Store, provider llm.Provider, cfg *config.Config) *Runner {
	return &Runner{
		store:     store,
		provider:  provider,
		cfg:       cfg,
		collector: NewCollector(cfg),
		stitch:    Stitch,
		newSender: func(webhookURL string) ResultsSender {
			return notify.NewDiscordSender(webhookURL, nil)
		},
		sendBudget: 2 * time.Minute,
	}
}

// NewCollector picks the flyer source named by server.flyer_source.
func NewCollector(cfg *config.Config) Collector {
	if cfg.Server.FlyerSource == config.FlyerSourceFlipp {
		return NewFlippCollector(
			BrowserOptions{ExecPath: cfg.Server.BrowserPath, Timeout: cfg.Server.BrowserDeadline()},
			NewDownloader(cfg.Server.FlyerDir, cfg.Server.DownloadWorkers),
		)
	}
	return LocalCollector{Dir: cfg.Server.FlyerDir}
}

// Run processes a run: collect -> stitch -> analyze -> save. Failures are
// recorded on the run and returned.
func (r *Runner) Run(ctx context.Context, runID string) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.State != db.RunProcessing {
		return fmt.Errorf("run %s is %s, not processing", db.ShortID(runID), run.State)
	}
	slog.Info("generating meal plan", "run", db.ShortID(runID), "postal_code", run.PostalCode,
		"people", run.NumPeople, "meals", run.NumMeals, "cuisine", run.Cuisine, "headless", run.Headless)

	text, flyer, err := r.runSteps(ctx, run)
	if err != nil && ctx.Err() != nil {
		// Shutdown: leave the run processing so startup recovery requeues it.
		return fmt.Errorf("run %s interrupted: %w", db.ShortID(runID), ctx.Err())
	}
	if err != nil {
		return r.failRun(ctx, runID, err)
	}

	if err := r.store.CompleteRun(ctx, runID, text, flyer); err != nil {
		return fmt.Errorf("complete run %s: %w", db.ShortID(runID), err)
	}
	slog.Info("meal plan ready", "run", db.ShortID(runID))

	if run.AutoSendDiscord && r.cfg.Notifications.DiscordWebhook != "" {
		r.autoSend(ctx, run.ID, text, flyer)
	}
	return nil
}

func (r *Runner) runSteps(ctx context.Context, run db.Run) (string, string, error) {
	files, err := r.collector.Collect(ctx, CollectRequest{
		PostalCode: run.PostalCode,
		Headless:   run.Headless,
		Progress:   func(message string) error { return r.setStatus(ctx, run.ID, message) },
	})
	if err != nil {
		return "", "", err
	}
	if len(files) == 0 {
		return "", "", errNoFlyers
	}
	slog.Debug("collected flyers", "run", db.ShortID(run.ID), "source", r.collector.Name(), "count", len(files))

	if err := r.setStatus(ctx, run.ID, StatusStitching); err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(r.cfg.Server.OutputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}
	flyer := filepath.Join(r.cfg.Server.OutputDir, StitchedFlyerName)
	if err := r.stitch(files, flyer); err != nil {
		return "", "", fmt.Errorf("Failed to stitch images: %w", err)
	}

	if err := r.setStatus(ctx, run.ID, StatusAnalyzing); err != nil {
		return "", "", err
	}
	resp, err := r.provider.Recommend(ctx, llm.Request{
		ImagePath: flyer,
		NumPeople: run.NumPeople,
		NumMeals:  run.NumMeals,
		Cuisine:   run.Cuisine,
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", errNoRecommendations, err)
	}
	text := SanitizeRecommendations(resp.Text)
	if text == "" {
		return "", "", errNoRecommendations
	}
	slog.Debug("llm finished", "run", db.ShortID(run.ID), "provider", r.provider.Name(), "duration_ms", resp.DurationMS)

	if err := r.setStatus(ctx, run.ID, StatusSaving); err != nil {
		return "", "", err
	}
	out := filepath.Join(r.cfg.Server.OutputDir, RecommendationsName)
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		return "", "", fmt.Errorf("save recommendations: %w", err)
	}
	return text, flyer, nil
}

func (r *Runner) setStatus(ctx context.Context, runID, message string) error {
	if err := r.store.SetRunStatus(ctx, runID, message); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func (r *Runner) failRun(ctx context.Context, runID string, cause error) error {
	msg := cause.Error()
	slog.Error("run failed", "run", db.ShortID(runID), "err", msg)
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.FailRun(storeCtx, runID, msg); err != nil {
		return fmt.Errorf("run %s failed: %s (record failure: %w)", db.ShortID(runID), msg, err)
	}
	return fmt.Errorf("run %s failed: %s", db.ShortID(runID), msg)
}

// autoSend delivers results after completion. Failures are logged and
// recorded but never change the run state.
func (r *Runner) autoSend(ctx context.Context, runID, text, flyer string) {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendBudget)
	defer cancel()
	sender := r.newSender(r.cfg.Notifications.DiscordWebhook)
	if err := Deliver(sendCtx, r.store, sender, runID, text, flyer); err != nil {
		slog.Warn("auto-send failed", "run", db.ShortID(runID), "channel", sender.Name(), "err", err)
	}
}

// Deliver sends results through sender and records the attempt.
func Deliver(ctx context.Context, store *db.Store, sender ResultsSender, runID, text, flyer string) error {
	parts, sendErr := sender.SendRecommendations(ctx, text, flyer)
	d := db.Delivery{RunID: runID, Channel: sender.Name(), Success: sendErr == nil, Parts: parts}
	if sendErr != nil {
		d.Error = sendErr.Error()
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := store.RecordDelivery(recordCtx, d); err != nil {
		slog.Warn("record delivery failed", "run", db.ShortID(runID), "err", err)
	}
	return sendErr
}
