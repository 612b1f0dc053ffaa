// Package logging assembles structured slog loggers and formatting helpers used
// across omzet.
//
// It owns the configurable console/JSON handlers, mirrors records into the
// JSON log file under the configured log directory, and exposes
// context-aware helpers so pipeline code can tag log lines with job IDs,
// libraries, tasks, and correlation IDs. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
package logging
