// Package ledger persists per-file workflow state in SQLite.
//
// Each entry is keyed by (library, path) and records the change fingerprint
// of the file that was last promoted, the status of the latest job, the
// index of the last task that finished, and the job's error text. The ledger
// is the sole source of truth for "is there work to do": a file is skipped
// only when its entry is complete and its current fingerprint matches.
//
// Writes are upserts, so concurrent writers to one key resolve as last
// writer wins; callers serialize work per key with internal/keylock.
package ledger
