package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const (
	RunQueued     = "queued"
	RunProcessing = "processing"
	RunCompleted  = "completed"
	RunError      = "error"
)

const (
	initialStatusMessage   = "Initializing..."
	completedStatusMessage = "Complete!"
)

// IsActiveState reports whether a run in state still occupies the single
// active slot.
func IsActiveState(state string) bool {
	return state == RunQueued || state == RunProcessing
}

type Run struct {
	ID              string
	State           string
	StatusMessage   string
	ErrorMessage    string
	PostalCode      string
	NumPeople       int
	NumMeals        int
	Cuisine         string
	Headless        bool
	AutoSendDiscord bool
	Recommendations string
	FlyerImage      string
	CreatedAt       string
	UpdatedAt       string
	StartedAt       string
	CompletedAt     string
}

// RunRequest holds the generation parameters a run is created with.
type RunRequest struct {
	PostalCode      string
	NumPeople       int
	NumMeals        int
	Cuisine         string
	Headless        bool
	AutoSendDiscord bool
}

const runColumns = `
id, state, status_message, error_message, postal_code, num_people, num_meals, cuisine,
headless, auto_send_discord, recommendations, flyer_image, created_at, updated_at,
COALESCE(started_at,''), COALESCE(completed_at,'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var headless, autoSend int
	err := row.Scan(
		&r.ID, &r.State, &r.StatusMessage, &r.ErrorMessage, &r.PostalCode, &r.NumPeople, &r.NumMeals, &r.Cuisine,
		&headless, &autoSend, &r.Recommendations, &r.FlyerImage, &r.CreatedAt, &r.UpdatedAt,
		&r.StartedAt, &r.CompletedAt,
	)
	r.Headless = headless == 1
	r.AutoSendDiscord = autoSend == 1
	return r, err
}

// CreateRun queues a new run. It returns ErrActiveRun when another run is
// queued or processing.
func (s *Store) CreateRun(ctx context.Context, req RunRequest) (string, error) {
	id := uuid.NewString()
	const q = `
INSERT INTO runs(id, state, status_message, postal_code, num_people, num_meals, cuisine, headless, auto_send_discord)
VALUES(?, 'queued', ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.Writer.ExecContext(ctx, q, id, initialStatusMessage,
		req.PostalCode, req.NumPeople, req.NumMeals, req.Cuisine,
		boolToInt(req.Headless), boolToInt(req.AutoSendDiscord))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return "", ErrActiveRun
		}
		return "", fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

// ClaimRun atomically moves the oldest queued run to processing. Returns
// empty string if none is queued.
func (s *Store) ClaimRun(ctx context.Context) (string, error) {
	const q = `
UPDATE runs SET state = 'processing', started_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
               updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE id = (
	SELECT id FROM runs
	WHERE state = 'queued'
	ORDER BY created_at ASC, rowid ASC
	LIMIT 1
)
RETURNING id`
	var id string
	err := s.Writer.QueryRowContext(ctx, q).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("claim run: %w", err)
	}
	return id, nil
}

// SetRunStatus updates the progress message of a processing run.
func (s *Store) SetRunStatus(ctx context.Context, id, message string) error {
	res, err := s.Writer.ExecContext(ctx, `
UPDATE runs SET status_message = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE id = ? AND state = 'processing'`, message, id)
	if err != nil {
		return fmt.Errorf("set run %s status: %w", ShortID(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not processing", ShortID(id))
	}
	return nil
}

// CompleteRun stores the results of a processing run and queues a
// completion notification in the same transaction.
func (s *Store) CompleteRun(ctx context.Context, id, recommendations, flyerImage string) error {
	return s.finishRun(ctx, id, NotificationEventCompleted, `
UPDATE runs SET state = 'completed', status_message = ?, error_message = '',
               recommendations = ?, flyer_image = ?,
               completed_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
               updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE id = ? AND state = 'processing'`, completedStatusMessage, recommendations, flyerImage, id)
}

// FailRun marks a processing run as errored. The status message carries an
// "Error: " prefix and the bare detail goes to error_message.
func (s *Store) FailRun(ctx context.Context, id, detail string) error {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = "unknown error"
	}
	return s.finishRun(ctx, id, NotificationEventFailed, `
UPDATE runs SET state = 'error', status_message = ?, error_message = ?,
               completed_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
               updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE id = ? AND state = 'processing'`, "Error: "+detail, detail, id)
}

func (s *Store) finishRun(ctx context.Context, id, event, q string, args ...any) error {
	tx, err := s.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish run %s: %w", ShortID(id), err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", ShortID(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not processing", ShortID(id))
	}
	if err := enqueueNotificationEventTx(ctx, tx, id, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish run %s: %w", ShortID(id), err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.Reader.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("run %s: %w", ShortID(id), ErrNotFound)
		}
		return Run{}, fmt.Errorf("get run %s: %w", ShortID(id), err)
	}
	return r, nil
}

// LatestRun returns the most recently created run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	return s.latest(ctx, "latest run", `1=1`)
}

// LatestResults returns the most recent completed run that produced
// recommendations. Later failed runs do not hide it.
func (s *Store) LatestResults(ctx context.Context) (Run, error) {
	return s.latest(ctx, "latest results", `state = 'completed' AND recommendations != ''`)
}

func (s *Store) latest(ctx context.Context, what, where string) (Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs WHERE ` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT 1`
	r, err := scanRun(s.Reader.QueryRowContext(ctx, q))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return Run{}, fmt.Errorf("get %s: %w", what, err)
	}
	return r, nil
}

// ListRuns returns runs newest first. An empty state or "all" lists every
// state; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, state string, limit int) ([]Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if state != "" && state != "all" {
		q += ` AND state = ?`
		args = append(args, state)
	}
	q += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.Reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveRunID expands a unique id prefix to the full run id.
func (s *Store) ResolveRunID(ctx context.Context, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("run id is required")
	}
	rows, err := s.Reader.QueryContext(ctx, `SELECT id FROM runs WHERE id LIKE ? LIMIT 2`, prefix+"%")
	if err != nil {
		return "", fmt.Errorf("resolve run %s: %w", prefix, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolve run %s: %w", prefix, err)
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("run %s: %w", prefix, ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("run id prefix %q is ambiguous", prefix)
	}
}

// ShortID returns the first 8 characters of a run id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
