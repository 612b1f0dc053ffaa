package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const entryColumns = `library, path, fingerprint, status, workflow, last_task_index,
        job_id, error_message, created_at, updated_at, completed_at`

// IsComplete reports whether the file finished its workflow while it had the
// given fingerprint.
func (s *Store) IsComplete(ctx context.Context, key Key, fingerprint string) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM entries WHERE library = ? AND path = ? AND status = ? AND fingerprint = ?`,
			key.Library, key.Path, StatusComplete, fingerprint,
		).Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", key, err)
	}
	return count > 0, nil
}

// MarkRunning records the start of a job. Task history from earlier jobs is kept.
func (s *Store) MarkRunning(ctx context.Context, key Key, jobID, workflow string) error {
	now := nowString()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO entries (library, path, status, workflow, last_task_index, job_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, -1, ?, ?, ?)
         ON CONFLICT(library, path) DO UPDATE SET
            status = excluded.status,
            workflow = excluded.workflow,
            last_task_index = -1,
            job_id = excluded.job_id,
            error_message = NULL,
            updated_at = excluded.updated_at`,
		key.Library, key.Path, StatusRunning, workflow, jobID, now, now,
	)
	if err != nil {
		return fmt.Errorf("mark running %s: %w", key, err)
	}
	return nil
}

// MarkProgress appends a task record and, when the task ran or was skipped,
// advances last_task_index for the owning job.
func (s *Store) MarkProgress(ctx context.Context, key Key, rec TaskRecord) error {
	recorded := rec.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_runs (library, path, job_id, task_id, task_index, outcome, exit_code, duration_ms, message, recorded_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key.Library, key.Path, rec.JobID, rec.TaskID, rec.Index, string(rec.Outcome), rec.ExitCode,
			rec.Duration.Milliseconds(), nullableString(rec.Message), recorded.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
		if !rec.Outcome.Advances() {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE entries SET last_task_index = ?, updated_at = ?
             WHERE library = ? AND path = ? AND job_id = ? AND last_task_index < ?`,
			rec.Index, nowString(), key.Library, key.Path, rec.JobID, rec.Index,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark progress %s task %s: %w", key, rec.TaskID, err)
	}
	return nil
}

// MarkComplete records a finished workflow. fingerprint must describe the
// promoted file so an unchanged rescan is recognised as done.
func (s *Store) MarkComplete(ctx context.Context, key Key, fingerprint string) error {
	if strings.TrimSpace(fingerprint) == "" {
		return errors.New("mark complete: empty fingerprint")
	}
	now := nowString()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO entries (library, path, fingerprint, status, created_at, updated_at, completed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(library, path) DO UPDATE SET
            fingerprint = excluded.fingerprint,
            status = excluded.status,
            error_message = NULL,
            updated_at = excluded.updated_at,
            completed_at = excluded.completed_at`,
		key.Library, key.Path, fingerprint, StatusComplete, now, now, now,
	)
	if err != nil {
		return fmt.Errorf("mark complete %s: %w", key, err)
	}
	return nil
}

// MarkFailed records a failed job. The entry is no longer complete, so the
// file is retried by the next run.
func (s *Store) MarkFailed(ctx context.Context, key Key, reason string) error {
	now := nowString()
	if strings.TrimSpace(reason) == "" {
		reason = "unknown failure"
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO entries (library, path, status, error_message, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(library, path) DO UPDATE SET
            status = excluded.status,
            error_message = excluded.error_message,
            updated_at = excluded.updated_at`,
		key.Library, key.Path, StatusFailed, reason, now, now,
	)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", key, err)
	}
	return nil
}

// Get returns the entry for key, or nil when the file has never been seen.
func (s *Store) Get(ctx context.Context, key Key) (*Entry, error) {
	ctx = ensureContext(ctx)
	var entry *Entry
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM entries WHERE library = ? AND path = ?`,
			key.Library, key.Path,
		)
		e, err := scanEntry(row)
		if errors.Is(err, sql.ErrNoRows) {
			entry = nil
			return nil
		}
		if err != nil {
			return err
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger get %s: %w", key, err)
	}
	return entry, nil
}

// List returns entries matching filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if filter.Library != "" {
		clauses = append(clauses, "library = ?")
		args = append(args, filter.Library)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	query := `SELECT ` + entryColumns + ` FROM entries`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, library, path"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger list: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Tasks returns the task history of key, oldest first.
func (s *Store) Tasks(ctx context.Context, key Key) ([]TaskRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, task_id, task_index, outcome, exit_code, duration_ms, message, recorded_at
         FROM task_runs WHERE library = ? AND path = ? ORDER BY id`,
		key.Library, key.Path,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger tasks %s: %w", key, err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var (
			rec        TaskRecord
			outcome    string
			durationMS int64
			message    sql.NullString
			recorded   sql.NullString
		)
		if err := rows.Scan(&rec.JobID, &rec.TaskID, &rec.Index, &outcome, &rec.ExitCode, &durationMS, &message, &recorded); err != nil {
			return nil, err
		}
		rec.Outcome = TaskOutcome(outcome)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Message = message.String
		rec.RecordedAt = parseTime(recorded)
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry     Entry
		status    string
		jobID     sql.NullString
		errMsg    sql.NullString
		created   sql.NullString
		updated   sql.NullString
		completed sql.NullString
	)
	if err := row.Scan(
		&entry.Library, &entry.Path, &entry.Fingerprint, &status, &entry.Workflow, &entry.LastTaskIndex,
		&jobID, &errMsg, &created, &updated, &completed,
	); err != nil {
		return Entry{}, err
	}
	entry.Status = Status(status)
	entry.JobID = jobID.String
	entry.Error = errMsg.String
	entry.CreatedAt = parseTime(created)
	entry.UpdatedAt = parseTime(updated)
	entry.CompletedAt = parseTime(completed)
	return entry, nil
}
