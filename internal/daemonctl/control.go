// Package daemonctl inspects and stops a running watch process from another
// process, using the daemon lock and pid file in the state directory.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"omzet/internal/config"
	"omzet/internal/daemon"
	"omzet/internal/daemonrun"
)

// DefaultGracePeriod bounds how long Stop waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 30 * time.Second

// ErrNotRunning indicates no watch process holds the daemon lock.
var ErrNotRunning = errors.New("watch process not running")

// StopResult captures the stop outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Running reports whether a watch process holds the daemon lock. The lock is
// probed and released immediately.
func Running(cfg *config.Config) (bool, error) {
	if _, err := os.Stat(lockPath(cfg)); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	lock := flock.New(lockPath(cfg))
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if locked {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// Stop sends SIGTERM to the watch process and waits for it to release the
// daemon lock, escalating to SIGKILL once gracePeriod elapses.
func Stop(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	running, err := Running(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !running {
		return StopResult{}, ErrNotRunning
	}
	pid, ok := daemonrun.ReadPID(cfg)
	if !ok {
		return StopResult{}, fmt.Errorf("daemon lock is held but pid file %s is missing", pidPath(cfg))
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}

	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return result, nil
		}
		return result, fmt.Errorf("signal watch process %d: %w", pid, err)
	}
	if waitForRelease(cfg, gracePeriod) {
		return result, nil
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill watch process %d: %w", pid, err)
	}
	result.ForcedKill = true
	// The kernel drops the flock with the process; the pid file is left behind.
	if err := os.Remove(pidPath(cfg)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file: %w", err)
	}
	if !waitForRelease(cfg, 5*time.Second) {
		return result, fmt.Errorf("watch process %d still holds %s", pid, lockPath(cfg))
	}
	return result, nil
}

func waitForRelease(cfg *config.Config, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		running, err := Running(cfg)
		if err == nil && !running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func lockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, daemon.LockName)
}

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, daemonrun.PIDFileName)
}
