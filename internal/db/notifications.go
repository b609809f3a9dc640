package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	NotificationEventCompleted = "completed"
	NotificationEventFailed    = "failed"
)

const (
	NotificationStatusPending    = "pending"
	NotificationStatusProcessing = "processing"
	NotificationStatusSent       = "sent"
	NotificationStatusFailed     = "failed"
	NotificationStatusSkipped    = "skipped"
)

const maxNotificationErrorLen = 512

// NotificationEvent is a queued run-lifecycle notification for the generic
// webhook, Slack and desktop channels.
type NotificationEvent struct {
	ID        int64
	RunID     string
	EventType string
	Status    string
	Attempts  int
	LastError string
	CreatedAt string
	UpdatedAt string
}

const notificationColumns = `id, run_id, event_type, status, attempts, last_error, created_at, updated_at`

func scanNotificationEvent(row rowScanner) (NotificationEvent, error) {
	var e NotificationEvent
	err := row.Scan(&e.ID, &e.RunID, &e.EventType, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func enqueueNotificationEventTx(ctx context.Context, tx *sql.Tx, runID, eventType string) error {
	if eventType != NotificationEventCompleted && eventType != NotificationEventFailed {
		return fmt.Errorf("unsupported notification event type %q", eventType)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notification_events(run_id, event_type) VALUES(?, ?)`, runID, eventType); err != nil {
		return fmt.Errorf("enqueue %s notification for run %s: %w", eventType, ShortID(runID), err)
	}
	return nil
}

// ListNotificationEvents returns events oldest first, optionally filtered by
// status.
func (s *Store) ListNotificationEvents(ctx context.Context, status string) ([]NotificationEvent, error) {
	q := `SELECT ` + notificationColumns + ` FROM notification_events`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id ASC`

	rows, err := s.Reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list notification events: %w", err)
	}
	defer rows.Close()

	var out []NotificationEvent
	for rows.Next() {
		e, err := scanNotificationEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClaimNotificationEvent moves the oldest sendable event to processing. An
// event is sendable when pending, or failed with fewer than maxAttempts
// attempts and untouched for at least retryAfter. ok is false when nothing
// is sendable.
func (s *Store) ClaimNotificationEvent(ctx context.Context, maxAttempts int, retryAfter time.Duration) (NotificationEvent, bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	cutoff := time.Now().UTC().Add(-retryAfter).Format(time.RFC3339)
	q := `
UPDATE notification_events
SET status = 'processing', updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE id = (
	SELECT id FROM notification_events
	WHERE status = 'pending'
	   OR (status = 'failed' AND attempts < ? AND updated_at <= ?)
	ORDER BY id ASC
	LIMIT 1
)
RETURNING ` + notificationColumns

	e, err := scanNotificationEvent(s.Writer.QueryRowContext(ctx, q, maxAttempts, cutoff))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotificationEvent{}, false, nil
		}
		return NotificationEvent{}, false, fmt.Errorf("claim notification event: %w", err)
	}
	return e, true, nil
}

func (s *Store) MarkNotificationEventSent(ctx context.Context, id int64) error {
	return s.settleNotificationEvent(ctx, id, NotificationStatusSent, "", false)
}

// MarkNotificationEventFailed records a failed attempt; the event stays
// eligible for retry until its attempts run out.
func (s *Store) MarkNotificationEventFailed(ctx context.Context, id int64, reason string) error {
	return s.settleNotificationEvent(ctx, id, NotificationStatusFailed, reason, true)
}

func (s *Store) MarkNotificationEventSkipped(ctx context.Context, id int64, reason string) error {
	return s.settleNotificationEvent(ctx, id, NotificationStatusSkipped, reason, false)
}

func (s *Store) settleNotificationEvent(ctx context.Context, id int64, status, reason string, countAttempt bool) error {
	if status != NotificationStatusSent {
		reason = clampNotificationError(reason)
	}
	_, err := s.Writer.ExecContext(ctx, `
UPDATE notification_events
SET status = ?, last_error = ?, attempts = attempts + ?,
    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE id = ?`, status, reason, boolToInt(countAttempt), id)
	if err != nil {
		return fmt.Errorf("mark notification event %d %s: %w", id, status, err)
	}
	return nil
}

// RecoverNotificationEvents turns events stuck in processing, left behind
// by a crash, into failed attempts so they are retried.
func (s *Store) RecoverNotificationEvents(ctx context.Context) (int64, error) {
	res, err := s.Writer.ExecContext(ctx, `
UPDATE notification_events
SET status = 'failed', attempts = attempts + 1,
    last_error = 'server restarted while notification was being sent',
    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("recover notification events: %w", err)
	}
	return res.RowsAffected()
}

// PruneNotificationEvents skips failed events that used up maxAttempts and
// deletes settled events older than retention.
func (s *Store) PruneNotificationEvents(ctx context.Context, maxAttempts int, retention time.Duration) (skipped, deleted int64, err error) {
	if maxAttempts > 0 {
		res, err := s.Writer.ExecContext(ctx, `
UPDATE notification_events
SET status = 'skipped', updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE status = 'failed' AND attempts >= ?`, maxAttempts)
		if err != nil {
			return 0, 0, fmt.Errorf("skip exhausted notification events: %w", err)
		}
		skipped, _ = res.RowsAffected()
	}
	if retention > 0 {
		cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)
		res, err := s.Writer.ExecContext(ctx, `
DELETE FROM notification_events
WHERE status IN ('sent', 'skipped') AND updated_at < ?`, cutoff)
		if err != nil {
			return skipped, 0, fmt.Errorf("delete old notification events: %w", err)
		}
		deleted, _ = res.RowsAffected()
	}
	return skipped, deleted, nil
}

func clampNotificationError(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "unknown error"
	}
	if len(msg) > maxNotificationErrorLen {
		return msg[:maxNotificationErrorLen]
	}
	return msg
}
