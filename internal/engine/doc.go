// Package engine drives batch runs: it scans libraries, filters out files the
// ledger already records as complete, and hands the rest to the task
// pipeline on a bounded worker pool.
//
// Each (library, path) key is locked before its ledger entry is consulted so
// two engines, in one process or in several, never run the same file at the
// same time. A key that is already held is reported busy instead of waited
// on. One file failing never stops the batch; cancelling the context stops
// dispatching and lets running jobs abort at their next boundary.
package engine
