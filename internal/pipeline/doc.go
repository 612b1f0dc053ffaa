// Package pipeline runs one file through its workflow's task list.
//
// A job owns a scratch workspace for its whole lifetime. The source is
// staged into the workspace, each task reads the current artifact and writes
// a fresh one, and only after the last task is the final artifact promoted
// over the source. Every exit path, including panics and cancellation,
// discards the workspace; failures never touch the destination and never
// mark the ledger complete.
package pipeline
