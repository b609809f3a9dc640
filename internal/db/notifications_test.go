package db

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNotificationEventLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	id := startRun(t, store)
	if err := store.FailRun(ctx, id, "no flyer images"); err != nil {
		t.Fatalf("fail run: %v", err)
	}

	event, ok, err := store.ClaimNotificationEvent(ctx, 3, time.Hour)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if event.EventType != NotificationEventFailed || event.RunID != id || event.Status != NotificationStatusProcessing {
		t.Fatalf("unexpected claimed event %+v", event)
	}
	if _, ok, _ := store.ClaimNotificationEvent(ctx, 3, time.Hour); ok {
		t.Fatalf("expected processing event to be unclaimable")
	}

	if err := store.MarkNotificationEventFailed(ctx, event.ID, "  "); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, ok, _ := store.ClaimNotificationEvent(ctx, 3, time.Hour); ok {
		t.Fatalf("expected failed event to wait for retry delay")
	}

	retry, ok, err := store.ClaimNotificationEvent(ctx, 3, 0)
	if err != nil || !ok {
		t.Fatalf("claim retry: ok=%v err=%v", ok, err)
	}
	if retry.Attempts != 1 || retry.LastError != "unknown error" {
		t.Fatalf("unexpected retry event %+v", retry)
	}
	if err := store.MarkNotificationEventSent(ctx, retry.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	sent, err := store.ListNotificationEvents(ctx, NotificationStatusSent)
	if err != nil {
		t.Fatalf("list sent: %v", err)
	}
	if len(sent) != 1 || sent[0].LastError != "" {
		t.Fatalf("expected one clean sent event, got %+v", sent)
	}
}

func TestRecoverAndPruneNotificationEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	id := startRun(t, store)
	if err := store.CompleteRun(ctx, id, "plan", ""); err != nil {
		t.Fatalf("complete run: %v", err)
	}
	if _, ok, err := store.ClaimNotificationEvent(ctx, 1, 0); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	recovered, err := store.RecoverNotificationEvents(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered event, got %d", recovered)
	}
	failed, err := store.ListNotificationEvents(ctx, NotificationStatusFailed)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || !strings.Contains(failed[0].LastError, "restarted") {
		t.Fatalf("expected recovered failure, got %+v", failed)
	}
	if _, ok, _ := store.ClaimNotificationEvent(ctx, 1, 0); ok {
		t.Fatalf("expected exhausted event to be unclaimable")
	}

	skipped, _, err := store.PruneNotificationEvents(ctx, 1, 0)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped event, got %d", skipped)
	}
}

func TestClampNotificationError(t *testing.T) {
	t.Parallel()

	if got := clampNotificationError(strings.Repeat("x", 600)); len(got) != maxNotificationErrorLen {
		t.Fatalf("expected clamp to %d, got %d", maxNotificationErrorLen, len(got))
	}
	if got := clampNotificationError(" boom "); got != "boom" {
		t.Fatalf("expected trimmed message, got %q", got)
	}
}
