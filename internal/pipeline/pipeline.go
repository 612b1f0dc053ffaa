package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"omzet/internal/catalog"
	"omzet/internal/ledger"
	"omzet/internal/logging"
	"omzet/internal/probe"
	"omzet/internal/scratch"
	"omzet/internal/script"
	"omzet/internal/services"
)

// Pipeline executes jobs one task at a time. A Pipeline is safe for
// concurrent use as long as no two jobs share a source path.
type Pipeline struct {
	runner          script.Runner
	evaluator       *probe.Evaluator
	ledger          Ledger
	fingerprintMode string
	logger          *slog.Logger
}

// New wires a pipeline. evaluator defaults to one backed by runner.
func New(runner script.Runner, evaluator *probe.Evaluator, store Ledger, fingerprintMode string, logger *slog.Logger) *Pipeline {
	if evaluator == nil {
		evaluator = probe.NewEvaluator(runner, probe.WithLogger(logger))
	}
	return &Pipeline{
		runner:          runner,
		evaluator:       evaluator,
		ledger:          store,
		fingerprintMode: fingerprintMode,
		logger:          logging.NewComponentLogger(logger, "pipeline"),
	}
}

// jobRun carries the mutable state of one Run call.
type jobRun struct {
	p       *Pipeline
	job     Job
	key     ledger.Key
	logger  *slog.Logger
	writes  context.Context
	result  Result
	started time.Time
	// sourceFingerprint is taken before staging; the source must still match
	// it when the job commits.
	sourceFingerprint string
}

// Run drives job through its workflow and reports the outcome. It never
// returns without discarding the workspace.
func (p *Pipeline) Run(ctx context.Context, job Job) (result Result) {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithLibrary(ctx, job.Library)

	r := &jobRun{
		p:   p,
		job: job,
		key: ledger.Key{Library: job.Library, Path: job.Source},
		logger: logging.WithContext(ctx, p.logger).With(
			logging.String(logging.FieldPath, job.Source),
		),
		// Terminal ledger writes must land even after ctx is cancelled.
		writes:  context.WithoutCancel(ctx),
		started: time.Now(),
		result: Result{
			JobID:    job.ID,
			Library:  job.Library,
			Path:     job.Source,
			ExitCode: -1,
		},
	}

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("pipeline panic: %v", rec)
			logging.ErrorWithContext(r.logger, "pipeline panicked", "pipeline_panic", logging.Error(err))
			result = r.fail(OutcomeFailed, r.result.FailedTask, err)
		}
	}()

	if job.Workflow == nil {
		return r.fail(OutcomeFailed, "", services.Wrap(services.ErrConfiguration, "pipeline", "workflow", "job has no workflow", nil))
	}

	if err := p.ledger.MarkRunning(r.writes, r.key, job.ID, job.Workflow.Name); err != nil {
		return r.finish(OutcomeFailed, services.Wrap(services.ErrTransient, "pipeline", "ledger", "mark running", err))
	}

	r.logger.Info("job started",
		logging.String("workflow", job.Workflow.Name),
		logging.Int("tasks", len(job.Workflow.Tasks)),
	)

	ws, err := scratch.Allocate(job.Workflow.ScratchpadDir, job.ID)
	if err != nil {
		return r.fail(OutcomeFailed, "", err)
	}
	defer func() {
		if err := ws.Discard(); err != nil {
			logging.WarnWithContext(r.logger, "workspace discard failed", "workspace_discard_failed",
				logging.String("workspace", ws.Root),
				logging.Error(err),
				logging.String(logging.FieldImpact, "scratch space leaked until orphan cleanup"),
				logging.ErrorHint("run `omzet scratch clean`"),
			)
		}
	}()

	r.sourceFingerprint, err = ledger.Fingerprint(job.Source, p.fingerprintMode)
	if err != nil {
		return r.fail(OutcomeFailed, "", services.Wrap(services.ErrStageIO, "pipeline", "fingerprint", job.Source, err))
	}

	staged, err := ws.StageInput(job.Source)
	if err != nil {
		return r.fail(OutcomeFailed, "", err)
	}

	current := staged
	ext := filepath.Ext(job.Source)
	executed := 0

	for index, task := range job.Workflow.Tasks {
		if err := ctx.Err(); err != nil {
			return r.interrupted(err)
		}

		next, ran, res, done := r.runTask(ctx, ws, index, task, current, ext)
		if done {
			return res
		}
		if ran {
			executed++
		}
		current = next
	}

	if err := ctx.Err(); err != nil {
		return r.interrupted(err)
	}

	if err := r.verifySource(); err != nil {
		return r.fail(OutcomeFailed, "", err)
	}

	if executed == 0 {
		return r.complete(OutcomeSkippedEntirely)
	}

	if current != staged {
		if err := scratch.Promote(current, job.Source); err != nil {
			return r.fail(OutcomeFailed, "", err)
		}
		r.logger.Debug("artifact promoted", logging.String("artifact", filepath.Base(current)))
	}
	return r.complete(OutcomeCompleted)
}

// verifySource fails when the source no longer matches the fingerprint taken
// before staging.
func (r *jobRun) verifySource() error {
	fingerprint, err := ledger.Fingerprint(r.job.Source, r.p.fingerprintMode)
	if err != nil {
		return services.Wrap(services.ErrStageIO, "pipeline", "verify source", r.job.Source, err)
	}
	if fingerprint != r.sourceFingerprint {
		return services.Wrap(services.ErrStageIO, "pipeline", "verify source", r.job.Source, ErrSourceChanged)
	}
	return nil
}

// runTask evaluates and executes one task. done reports that the job ended
// and res holds its final result.
func (r *jobRun) runTask(ctx context.Context, ws *scratch.Workspace, index int, task catalog.Task, input, ext string) (next string, ran bool, res Result, done bool) {
	taskCtx := services.WithTask(ctx, task.ID)
	logger := r.logger.With(logging.String(logging.FieldTask, task.ID))
	output := ws.StageOutput(index, task.ID, ext)
	env := r.bindings(task, input, output)
	started := time.Now()

	decision := r.p.evaluator.Evaluate(taskCtx, task, env, ws.Root)
	switch decision.Decision {
	case probe.Skip:
		logger.Info("task skipped", logging.String("reason", decision.Reason))
		r.record(index, task, ledger.TaskSkipped, decision.ExitCode, time.Since(started), decision.Reason)
		return input, false, Result{}, false
	case probe.Error:
		if errors.Is(decision.Err, services.ErrInterrupted) {
			return "", false, r.interrupted(decision.Err), true
		}
		r.result.ExitCode = decision.ExitCode
		r.record(index, task, ledger.TaskProbeError, decision.ExitCode, time.Since(started), errMessage(decision.Err))
		return "", false, r.fail(OutcomeProbeFailed, task.ID, decision.Err), true
	}

	logger.Info("task running", logging.String("reason", decision.Reason))
	outcome, err := r.p.runner.Run(taskCtx, script.Request{
		Name:    task.ID + "/command",
		Script:  task.Command,
		Env:     env,
		Dir:     ws.Root,
		Timeout: task.Timeout,
		Logger:  logger,
	})
	elapsed := time.Since(started)
	if err != nil {
		if errors.Is(err, services.ErrInterrupted) {
			return "", false, r.interrupted(err), true
		}
		r.result.ExitCode = outcome.ExitCode
		r.record(index, task, ledger.TaskFailed, outcome.ExitCode, elapsed, err.Error())
		return "", false, r.fail(OutcomeFailed, task.ID, err), true
	}
	if cmdErr := outcome.Err(task.ID + "/command"); cmdErr != nil {
		r.result.ExitCode = outcome.ExitCode
		r.record(index, task, ledger.TaskFailed, outcome.ExitCode, elapsed, cmdErr.Error())
		return "", false, r.fail(OutcomeFailed, task.ID, cmdErr), true
	}

	// Lstat: a symlinked output must never be promoted over the source.
	info, statErr := os.Lstat(output)
	switch {
	case statErr == nil && info.Mode().IsRegular():
		logger.Info("task finished", logging.Duration("duration", elapsed))
		r.record(index, task, ledger.TaskRan, 0, elapsed, "")
		return output, true, Result{}, false
	case statErr == nil:
		err := &scratch.StageError{Op: "collect output", Path: output, Err: errors.New("not a regular file")}
		r.record(index, task, ledger.TaskFailed, 0, elapsed, err.Error())
		return "", false, r.fail(OutcomeFailed, task.ID, err), true
	case !errors.Is(statErr, os.ErrNotExist):
		err := &scratch.StageError{Op: "collect output", Path: output, Err: statErr}
		r.record(index, task, ledger.TaskFailed, 0, elapsed, err.Error())
		return "", false, r.fail(OutcomeFailed, task.ID, err), true
	}

	logging.WarnWithContext(logger, "task produced no output", "task_no_output",
		logging.String("expected", filepath.Base(output)),
		logging.String(logging.FieldImpact, "following tasks read the previous artifact"),
		logging.ErrorHint("write the result to $OMZET_OUTPUT"),
	)
	r.record(index, task, ledger.TaskRan, 0, elapsed, "no output produced")
	return input, true, Result{}, false
}

func (r *jobRun) bindings(task catalog.Task, input, output string) map[string]string {
	return map[string]string{
		EnvInput:   input,
		EnvOutput:  output,
		EnvTask:    task.ID,
		EnvLibrary: r.job.Library,
		EnvSource:  r.job.Source,
	}
}

func (r *jobRun) record(index int, task catalog.Task, outcome ledger.TaskOutcome, exitCode int, elapsed time.Duration, message string) {
	rec := ledger.TaskRecord{
		JobID:      r.job.ID,
		TaskID:     task.ID,
		Index:      index,
		Outcome:    outcome,
		ExitCode:   exitCode,
		Duration:   elapsed,
		Message:    message,
		RecordedAt: time.Now().UTC(),
	}
	r.result.Tasks = append(r.result.Tasks, rec)
	if err := r.p.ledger.MarkProgress(r.writes, r.key, rec); err != nil {
		logging.WarnWithContext(r.logger, "ledger progress write failed", "ledger_write_failed",
			logging.String(logging.FieldTask, task.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "task history incomplete"),
		)
	}
}

func (r *jobRun) complete(outcome Outcome) Result {
	fingerprint, err := ledger.Fingerprint(r.job.Source, r.p.fingerprintMode)
	if err != nil {
		return r.fail(OutcomeFailed, "", services.Wrap(services.ErrStageIO, "pipeline", "fingerprint", r.job.Source, err))
	}
	if err := r.p.ledger.MarkComplete(r.writes, r.key, fingerprint); err != nil {
		return r.finish(OutcomeFailed, services.Wrap(services.ErrTransient, "pipeline", "ledger", "mark complete", err))
	}
	r.logger.Info("job finished", logging.String("outcome", string(outcome)))
	return r.finish(outcome, nil)
}

func (r *jobRun) interrupted(cause error) Result {
	if !errors.Is(cause, services.ErrInterrupted) {
		cause = services.Wrap(services.ErrInterrupted, "pipeline", r.job.ID, "cancelled", cause)
	}
	if err := r.p.ledger.MarkFailed(r.writes, r.key, ledger.InterruptedReason); err != nil {
		r.logger.Debug("ledger interrupt write failed", logging.Error(err))
	}
	logging.WarnWithContext(r.logger, "job interrupted", "job_interrupted",
		logging.String(logging.FieldImpact, "destination left untouched"),
		logging.ErrorHint("the file is retried on the next run"),
	)
	return r.finish(OutcomeInterrupted, cause)
}

func (r *jobRun) fail(outcome Outcome, taskID string, cause error) Result {
	r.result.FailedTask = taskID
	reason := errMessage(cause)
	if taskID != "" {
		reason = taskID + ": " + reason
	}
	if err := r.p.ledger.MarkFailed(r.writes, r.key, reason); err != nil {
		r.logger.Debug("ledger failure write failed", logging.Error(err))
	}
	logging.ErrorWithContext(r.logger, "job failed", "job_failed",
		logging.String("outcome", string(outcome)),
		logging.String("failed_task", taskID),
		logging.String("error_kind", services.Kind(cause)),
		logging.Error(cause),
		logging.ErrorHint(hintFor(cause)),
	)
	return r.finish(outcome, cause)
}

func (r *jobRun) finish(outcome Outcome, err error) Result {
	r.result.Outcome = outcome
	r.result.Err = err
	r.result.Duration = time.Since(r.started)
	return r.result
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

func hintFor(err error) string {
	switch services.Kind(err) {
	case "configuration":
		return "probe scripts must exit 0 (run) or 1 (skip)"
	case "timeout":
		return "raise the task timeout or check the script for hangs"
	case "stage_io":
		return "check scratchpad and library permissions and free space"
	case "external_tool":
		return "inspect the task's stderr in the log"
	}
	return "check logs for details"
}
