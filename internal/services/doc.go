// Package services defines shared utilities consumed by the engine packages.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, library names, task IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (configuration, timeout, stage I/O, interruption) consistently across
//     the pipeline and the ledger.
//
// Use these helpers when wiring new engine logic so operational behaviour
// (error handling, observability) stays uniform.
package services
