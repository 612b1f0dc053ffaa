package ledger

import (
	"context"
	"fmt"
)

// Stats returns a count of entries grouped by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	stats := make(Stats)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Forget removes the entry and task history for key so the file is
// processed again. It reports whether an entry existed.
func (s *Store) Forget(ctx context.Context, key Key) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM entries WHERE library = ? AND path = ?`, key.Library, key.Path)
	if err != nil {
		return false, fmt.Errorf("forget %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearFailed removes every failed entry.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM entries WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes every entry; the next run reprocesses all files.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM entries`)
	if err != nil {
		return 0, fmt.Errorf("clear ledger: %w", err)
	}
	return res.RowsAffected()
}

// ResetRunning marks entries left running by a dead process as failed with
// reason "interrupted". Call only while no other omzet process is running jobs.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE entries SET status = ?, error_message = ?, updated_at = ? WHERE status = ?`,
		StatusFailed, InterruptedReason, nowString(), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset running: %w", err)
	}
	return res.RowsAffected()
}
