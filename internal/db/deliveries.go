package db

import (
	"context"
	"fmt"
)

// Delivery is one attempt to post a run's results to a chat webhook.
type Delivery struct {
	ID        int64
	RunID     string
	Channel   string
	Success   bool
	Error     string
	Parts     int
	CreatedAt string
}

func (s *Store) RecordDelivery(ctx context.Context, d Delivery) (int64, error) {
	res, err := s.Writer.ExecContext(ctx, `
INSERT INTO deliveries(run_id, channel, success, error, parts)
VALUES(?, ?, ?, ?, ?)`, d.RunID, d.Channel, boolToInt(d.Success), d.Error, d.Parts)
	if err != nil {
		return 0, fmt.Errorf("record %s delivery for run %s: %w", d.Channel, ShortID(d.RunID), err)
	}
	return res.LastInsertId()
}

// ListDeliveries returns every delivery attempt for a run, oldest first.
func (s *Store) ListDeliveries(ctx context.Context, runID string) ([]Delivery, error) {
	rows, err := s.Reader.QueryContext(ctx, `
SELECT id, run_id, channel, success, error, parts, created_at
FROM deliveries WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries for run %s: %w", ShortID(runID), err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var success int
		if err := rows.Scan(&d.ID, &d.RunID, &d.Channel, &success, &d.Error, &d.Parts, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Success = success == 1
		out = append(out, d)
	}
	return out, rows.Err()
}
