package script

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"omzet/internal/logging"
	"omzet/internal/services"
)

// DefaultKillGrace is the delay between SIGTERM and SIGKILL when none is configured.
const DefaultKillGrace = 10 * time.Second

// Runner executes one script per call.
type Runner interface {
	Run(ctx context.Context, req Request) (Outcome, error)
}

// Request describes a single script invocation.
type Request struct {
	// Name labels the script in logs and errors, usually "<task>/probe" or "<task>/command".
	Name   string
	Script string
	Env    map[string]string
	Dir    string
	// Timeout of zero disables the limit.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Outcome is the observed result of a script that was started.
type Outcome struct {
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	Duration  time.Duration
	Truncated bool
}

// Err converts a nonzero exit into a CommandError.
func (o Outcome) Err(name string) error {
	if o.ExitCode == 0 {
		return nil
	}
	return &CommandError{Name: name, ExitCode: o.ExitCode, Stderr: stderrSummary(o.Stderr, 3)}
}

// ShellRunner runs scripts through a POSIX shell.
type ShellRunner struct {
	shell     string
	killGrace time.Duration
}

// NewShellRunner builds a runner for the given shell ("sh" when empty).
func NewShellRunner(shell string, killGrace time.Duration) *ShellRunner {
	shell = strings.TrimSpace(shell)
	if shell == "" {
		shell = "sh"
	}
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}
	return &ShellRunner{shell: shell, killGrace: killGrace}
}

// Run starts the script and waits for it, its timeout, or ctx cancellation.
func (r *ShellRunner) Run(ctx context.Context, req Request) (Outcome, error) {
	name := req.Name
	if name == "" {
		name = "script"
	}
	logger := req.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.Command(r.shell, "-c", req.Script)
	cmd.Dir = req.Dir
	cmd.Env = BuildEnv(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Pipes held open by orphaned grandchildren must not block Wait forever.
	cmd.WaitDelay = r.killGrace

	stdout := newTailBuffer(MaxCapture)
	stderr := newTailBuffer(MaxCapture)
	var outLines, errLines *lineLogger
	if debugEnabled(logger) {
		outLines = newLineLogger(logger, "stdout")
		errLines = newLineLogger(logger, "stderr")
		cmd.Stdout = io.MultiWriter(stdout, outLines)
		cmd.Stderr = io.MultiWriter(stderr, errLines)
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{ExitCode: -1}, &SpawnError{Name: name, Err: err}
	}
	pid := cmd.Process.Pid
	logger.Debug("script started", logging.String("script", name), logging.Int("pid", pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	interrupted := false
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		interrupted = true
		waitErr = r.terminate(pid, done, logger)
	}

	if outLines != nil {
		outLines.Flush()
		errLines.Flush()
	}

	outcome := Outcome{
		ExitCode:  exitCode(waitErr),
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Duration:  time.Since(start),
		Truncated: stdout.truncated || stderr.truncated,
	}

	if interrupted {
		if ctx.Err() != nil {
			return outcome, services.Wrap(services.ErrInterrupted, "script", name, "terminated", ctx.Err())
		}
		return outcome, &TimeoutError{Name: name, Timeout: req.Timeout}
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return outcome, &SpawnError{Name: name, Err: waitErr}
	}

	logger.Debug("script finished",
		logging.String("script", name),
		logging.Int("exit_code", outcome.ExitCode),
		logging.Duration("duration", outcome.Duration),
	)
	return outcome, nil
}

// terminate signals the process group, escalating to SIGKILL after the grace period.
func (r *ShellRunner) terminate(pid int, done <-chan error, logger *slog.Logger) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Debug("sigterm process group failed", logging.Int("pid", pid), logging.Error(err))
	}
	timer := time.NewTimer(r.killGrace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
	}
	logging.WarnWithContext(logger, "script ignored SIGTERM; killing process group", "script_kill",
		logging.Int("pid", pid),
		logging.Duration("grace", r.killGrace),
		logging.String(logging.FieldImpact, "partial output discarded"),
	)
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Debug("sigkill process group failed", logging.Int("pid", pid), logging.Error(err))
	}
	return <-done
}

func exitCode(err error) int {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}
