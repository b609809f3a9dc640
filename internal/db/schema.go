package db

import (
	"context"
	"fmt"
)

const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER NOT NULL,
    applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE TABLE IF NOT EXISTS runs (
    id                TEXT PRIMARY KEY,
    state             TEXT NOT NULL DEFAULT 'queued'
        CHECK(state IN ('queued','processing','completed','error')),
    status_message    TEXT NOT NULL DEFAULT '',
    error_message     TEXT NOT NULL DEFAULT '',
    postal_code       TEXT NOT NULL,
    num_people        INTEGER NOT NULL CHECK(num_people > 0),
    num_meals         INTEGER NOT NULL CHECK(num_meals > 0),
    cuisine           TEXT NOT NULL,
    headless          INTEGER NOT NULL DEFAULT 1 CHECK(headless IN (0,1)),
    auto_send_discord INTEGER NOT NULL DEFAULT 0 CHECK(auto_send_discord IN (0,1)),
    recommendations   TEXT NOT NULL DEFAULT '',
    flyer_image       TEXT NOT NULL DEFAULT '',
    created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    updated_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    started_at        TEXT,
    completed_at      TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_one_active
    ON runs((state IN ('queued', 'processing')))
    WHERE state IN ('queued', 'processing');

CREATE TABLE IF NOT EXISTS deliveries (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    channel    TEXT NOT NULL,
    success    INTEGER NOT NULL CHECK(success IN (0,1)),
    error      TEXT NOT NULL DEFAULT '',
    parts      INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_deliveries_run ON deliveries(run_id);

CREATE TABLE IF NOT EXISTS notification_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    event_type TEXT NOT NULL CHECK(event_type IN ('completed','failed')),
    status     TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','processing','sent','failed','skipped')),
    attempts   INTEGER NOT NULL DEFAULT 0 CHECK(attempts >= 0),
    last_error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_notification_events_status_created
    ON notification_events(status, created_at);
CREATE INDEX IF NOT EXISTS idx_notification_events_run
    ON notification_events(run_id);
`

func (s *Store) createSchema() error {
	if _, err := s.Writer.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var count int
	if err := s.Writer.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if count == 0 {
		if _, err := s.Writer.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
	}
	return nil
}

// RecoverInFlightRuns puts runs left processing by a crashed server back in
// the queue. Called on server startup.
func (s *Store) RecoverInFlightRuns(ctx context.Context) (int64, error) {
	res, err := s.Writer.ExecContext(ctx,
		`UPDATE runs SET state = 'queued', status_message = 'Initializing...', started_at = NULL,
		        updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		 WHERE state = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("recover in-flight runs: %w", err)
	}
	return res.RowsAffected()
}
