package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mealplan/internal/db"
)

const (
	defaultSendTimeout    = 4 * time.Second
	defaultPollInterval   = 2 * time.Second
	defaultRetryAfter     = 15 * time.Second
	defaultCleanupEvery   = 6 * time.Hour
	defaultRetention      = 7 * 24 * time.Hour
	defaultMaxSendAttempt = 5
)

// Dispatcher drains queued run lifecycle events to the configured senders.
type Dispatcher struct {
	store        *db.Store
	senders      []Sender
	triggers     map[string]struct{}
	sendTimeout  time.Duration
	pollEvery    time.Duration
	retryAfter   time.Duration
	cleanupEvery time.Duration
	retention    time.Duration
	maxAttempts  int
}

func NewDispatcher(store *db.Store, senders []Sender, triggers []string) *Dispatcher {
	return &Dispatcher{
		store:        store,
		senders:      senders,
		triggers:     TriggerSet(triggers),
		sendTimeout:  defaultSendTimeout,
		pollEvery:    defaultPollInterval,
		retryAfter:   defaultRetryAfter,
		cleanupEvery: defaultCleanupEvery,
		retention:    defaultRetention,
		maxAttempts:  defaultMaxSendAttempt,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	if d.store == nil {
		return
	}

	if recovered, err := d.store.RecoverNotificationEvents(ctx); err != nil {
		slog.Warn("notify: recover processing events failed", "err", err)
	} else if recovered > 0 {
		slog.Info("notify: recovered processing events", "count", recovered)
	}
	d.cleanup(ctx)

	pollTicker := time.NewTicker(d.pollEvery)
	defer pollTicker.Stop()
	cleanupTicker := time.NewTicker(d.cleanupEvery)
	defer cleanupTicker.Stop()

	for {
		processed, err := d.runOnce(ctx)
		if err != nil {
			slog.Warn("notify: dispatch failed", "err", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
		case <-cleanupTicker.C:
			d.cleanup(ctx)
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) (bool, error) {
	event, ok, err := d.store.ClaimNotificationEvent(ctx, d.maxAttempts, d.retryAfter)
	if err != nil || !ok {
		return false, err
	}
	return true, d.processEvent(ctx, event)
}

func (d *Dispatcher) processEvent(ctx context.Context, event db.NotificationEvent) error {
	if len(d.senders) == 0 {
		return d.skip(ctx, event, "no notification channels configured")
	}
	if _, ok := d.triggers[event.EventType]; !ok {
		return d.skip(ctx, event, "trigger disabled")
	}

	payload, err := d.buildPayload(ctx, event)
	if err != nil {
		if markErr := d.store.MarkNotificationEventFailed(ctx, event.ID, err.Error()); markErr != nil {
			return fmt.Errorf("build payload failed: %v (mark failed: %w)", err, markErr)
		}
		return fmt.Errorf("build payload for event %d: %w", event.ID, err)
	}

	results := SendAll(ctx, d.senders, payload, d.sendTimeout)
	if results.Succeeded() > 0 {
		if err := d.store.MarkNotificationEventSent(ctx, event.ID); err != nil {
			return fmt.Errorf("mark event %d sent: %w", event.ID, err)
		}
		for _, result := range results {
			if !result.Success {
				slog.Warn("notify: channel send failed", "channel", result.Channel, "run", db.ShortID(event.RunID), "event", event.EventType, "err", result.Error)
			}
		}
		return nil
	}

	summary := results.FailureSummary()
	if summary == "" {
		summary = "all channels failed"
	}
	if err := d.store.MarkNotificationEventFailed(ctx, event.ID, summary); err != nil {
		return fmt.Errorf("mark event %d failed: %w", event.ID, err)
	}
	return fmt.Errorf("send event %d failed: %s", event.ID, summary)
}

func (d *Dispatcher) skip(ctx context.Context, event db.NotificationEvent, reason string) error {
	if err := d.store.MarkNotificationEventSkipped(ctx, event.ID, reason); err != nil {
		return fmt.Errorf("skip event %d: %w", event.ID, err)
	}
	return nil
}

func (d *Dispatcher) buildPayload(ctx context.Context, event db.NotificationEvent) (Payload, error) {
	run, err := d.store.GetRun(ctx, event.RunID)
	if err != nil {
		return Payload{}, fmt.Errorf("load run: %w", err)
	}
	return Payload{
		Event:     event.EventType,
		RunID:     run.ID,
		State:     EventState(event.EventType),
		Summary:   RunSummary(run.Cuisine, run.NumPeople, run.NumMeals, run.PostalCode),
		Error:     run.ErrorMessage,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (d *Dispatcher) cleanup(ctx context.Context) {
	skipped, deleted, err := d.store.PruneNotificationEvents(ctx, d.maxAttempts, d.retention)
	if err != nil {
		slog.Warn("notify: cleanup failed", "err", err)
	}
	if skipped > 0 {
		slog.Info("notify: skipped exhausted events", "count", skipped)
	}
	if deleted > 0 {
		slog.Debug("notify: cleaned old events", "count", deleted)
	}
}
