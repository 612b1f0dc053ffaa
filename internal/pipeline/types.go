package pipeline

import (
	"context"
	"errors"
	"time"

	"omzet/internal/catalog"
	"omzet/internal/ledger"
)

// Env keys bound for every probe and command.
const (
	EnvInput   = "OMZET_INPUT"
	EnvOutput  = "OMZET_OUTPUT"
	EnvTask    = "OMZET_TASK"
	EnvLibrary = "OMZET_LIBRARY"
	EnvSource  = "OMZET_SOURCE"
)

// ErrSourceChanged reports that the source file was modified while its job
// ran. Nothing is promoted and the file is retried on the next run.
var ErrSourceChanged = errors.New("source changed during run")

// Outcome is the final state of one file.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeSkippedEntirely Outcome = "skipped_entirely"
	OutcomeFailed          Outcome = "failed"
	OutcomeProbeFailed     Outcome = "probe_failed"
	OutcomeInterrupted     Outcome = "interrupted"
	// Set by the engine, never by Run.
	OutcomeAlreadyComplete Outcome = "already_complete"
	OutcomeBusy            Outcome = "busy"
)

// Succeeded reports whether the file ended in a done state.
func (o Outcome) Succeeded() bool {
	switch o {
	case OutcomeCompleted, OutcomeSkippedEntirely, OutcomeAlreadyComplete:
		return true
	}
	return false
}

// Job is one (library, file, workflow) instantiation. The source path is
// also the destination.
type Job struct {
	ID       string
	Library  string
	Source   string
	Workflow *catalog.Workflow
}

// Result reports what happened to a job. ExitCode is -1 when no script exit
// status applies.
type Result struct {
	JobID      string
	Library    string
	Path       string
	Outcome    Outcome
	FailedTask string
	ExitCode   int
	Err        error
	Tasks      []ledger.TaskRecord
	Duration   time.Duration
}

// Ledger is the subset of the completion ledger a pipeline writes to.
type Ledger interface {
	MarkRunning(ctx context.Context, key ledger.Key, jobID, workflow string) error
	MarkProgress(ctx context.Context, key ledger.Key, rec ledger.TaskRecord) error
	MarkComplete(ctx context.Context, key ledger.Key, fingerprint string) error
	MarkFailed(ctx context.Context, key ledger.Key, reason string) error
}
