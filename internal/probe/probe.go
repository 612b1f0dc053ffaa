// Package probe decides whether a task must run for the current staged input.
//
// Probe scripts follow a three-way exit contract: 0 means the task is
// required, 1 means it does not apply and is skipped, and anything else is a
// probe error. A probe that cannot be started or times out is also a probe
// error; it never silently turns into a skip.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"omzet/internal/catalog"
	"omzet/internal/logging"
	"omzet/internal/media/ffprobe"
	"omzet/internal/script"
	"omzet/internal/services"
)

// Decision is the probe verdict for one task.
type Decision int

const (
	Required Decision = iota
	Skip
	Error
)

func (d Decision) String() string {
	switch d {
	case Required:
		return "required"
	case Skip:
		return "skip"
	default:
		return "error"
	}
}

// Env keys every probe receives.
const (
	EnvInput  = "OMZET_INPUT"
	EnvOutput = "OMZET_OUTPUT"
	EnvTask   = "OMZET_TASK"
)

// Result carries the decision plus diagnostics. ExitCode is -1 when no
// script exit status applies.
type Result struct {
	Decision Decision
	ExitCode int
	Reason   string
	Err      error
}

// ProbeError reports a probe that exited outside {0, 1} or could not run.
type ProbeError struct {
	Task     string
	ExitCode int
	Err      error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe for task %q failed: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("probe for task %q exited with status %d (expected 0 or 1)", e.Task, e.ExitCode)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Is marks unexpected exit codes as configuration errors; spawn and timeout
// failures keep the classification of the wrapped error.
func (e *ProbeError) Is(target error) bool {
	return e.Err == nil && target == services.ErrConfiguration
}

// Evaluator runs codec and script probes.
type Evaluator struct {
	runner        script.Runner
	inspect       ffprobe.Inspector
	ffprobeBinary string
	logger        *slog.Logger
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithInspector replaces the ffprobe implementation used by the codec probe.
func WithInspector(inspect ffprobe.Inspector) Option {
	return func(e *Evaluator) {
		if inspect != nil {
			e.inspect = inspect
		}
	}
}

// WithFFprobeBinary sets the ffprobe executable.
func WithFFprobeBinary(binary string) Option {
	return func(e *Evaluator) { e.ffprobeBinary = binary }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator constructs an Evaluator backed by runner.
func NewEvaluator(runner script.Runner, opts ...Option) *Evaluator {
	e := &Evaluator{
		runner:        runner,
		inspect:       ffprobe.Inspect,
		ffprobeBinary: "ffprobe",
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate is a convenience wrapper for one-off evaluations.
func Evaluate(ctx context.Context, runner script.Runner, task catalog.Task, env map[string]string, dir string) Result {
	return NewEvaluator(runner).Evaluate(ctx, task, env, dir)
}

// Evaluate decides whether task must run. env must contain OMZET_INPUT and
// OMZET_OUTPUT; OMZET_TASK is added when absent. The probe script runs in dir,
// the job workspace, like the task command.
func (e *Evaluator) Evaluate(ctx context.Context, task catalog.Task, env map[string]string, dir string) Result {
	logger := logging.WithContext(ctx, e.logger)

	if task.HasCodecProbe() {
		res, decided := e.codecProbe(ctx, task, env[EnvInput])
		if decided {
			logger.Debug("codec probe decided",
				logging.String("decision", res.Decision.String()),
				logging.String("reason", res.Reason),
			)
			return res
		}
	}

	if !task.HasProbe() {
		return Result{Decision: Required, ExitCode: -1, Reason: "no probe"}
	}

	bindings := make(map[string]string, len(env)+1)
	for k, v := range env {
		bindings[k] = v
	}
	if _, ok := bindings[EnvTask]; !ok {
		bindings[EnvTask] = task.ID
	}

	outcome, err := e.runner.Run(ctx, script.Request{
		Name:    task.ID + "/probe",
		Script:  task.Probe,
		Env:     bindings,
		Dir:     dir,
		Timeout: task.Timeout,
		Logger:  logger,
	})
	if err != nil {
		if errors.Is(err, services.ErrInterrupted) {
			return Result{Decision: Error, ExitCode: outcome.ExitCode, Reason: "interrupted", Err: err}
		}
		return Result{
			Decision: Error,
			ExitCode: outcome.ExitCode,
			Reason:   "probe did not complete",
			Err:      &ProbeError{Task: task.ID, ExitCode: outcome.ExitCode, Err: err},
		}
	}

	res := classify(task.ID, outcome.ExitCode)
	logger.Debug("probe evaluated",
		logging.String("decision", res.Decision.String()),
		logging.Int("exit_code", outcome.ExitCode),
		logging.Duration("duration", outcome.Duration),
	)
	return res
}

func classify(taskID string, code int) Result {
	switch code {
	case 0:
		return Result{Decision: Required, ExitCode: 0, Reason: "probe exited 0"}
	case 1:
		return Result{Decision: Skip, ExitCode: 1, Reason: "probe exited 1"}
	default:
		return Result{
			Decision: Error,
			ExitCode: code,
			Reason:   fmt.Sprintf("probe exited %d", code),
			Err:      &ProbeError{Task: taskID, ExitCode: code},
		}
	}
}

// codecProbe returns decided=false when the script probe (if any) should
// still run.
func (e *Evaluator) codecProbe(ctx context.Context, task catalog.Task, input string) (Result, bool) {
	result, err := e.inspect(ctx, e.ffprobeBinary, input)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Decision: Error, ExitCode: -1, Reason: "interrupted",
				Err: services.Wrap(services.ErrInterrupted, "probe", task.ID, "codec probe cancelled", ctx.Err())}, true
		}
		return Result{
			Decision: Error,
			ExitCode: -1,
			Reason:   "codec probe failed",
			Err:      &ProbeError{Task: task.ID, ExitCode: -1, Err: services.Wrap(services.ErrExternalTool, "probe", "ffprobe", "", err)},
		}, true
	}
	codec, ok := result.VideoCodec()
	if ok && slices.Contains(task.SkipCodecs, codec) {
		return Result{Decision: Skip, ExitCode: -1, Reason: "video codec already " + codec}, true
	}
	return Result{}, false
}
