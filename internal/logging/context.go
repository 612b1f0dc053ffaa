package logging

import (
	"context"
	"log/slog"

	"omzet/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID identifies one pipeline run over one file.
	FieldJobID = "job_id"
	// FieldLibrary is the configured library name.
	FieldLibrary = "library"
	// FieldTask is the task ID currently executing.
	FieldTask = "task"
	// FieldPath is the absolute source file path.
	FieldPath = "path"
	// FieldCorrelationID groups every job started by one engine run.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a record for filtering (task_started, probe_skip, ...).
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if lib, ok := services.LibraryFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldLibrary, lib))
	}
	if task, ok := services.TaskFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTask, task))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
