package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"omzet/internal/config"
	"omzet/internal/engine"
	"omzet/internal/logging"
)

// LockName is the single-instance lock file inside the state directory.
const LockName = "omzet.lock"

// Engine is the batch runner the daemon drives.
type Engine interface {
	RunAll(ctx context.Context) (engine.Report, error)
}

// Daemon periodically runs the engine and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	engine   Engine
	logger   *slog.Logger
	interval time.Duration

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	runs    int
	last    *engine.Report
	lastErr error
	lastAt  time.Time
	nextAt  time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Runs         int
	LastRun      time.Time
	NextRun      time.Time
	LastReport   *engine.Report
	LastError    error
	LockFilePath string
	LedgerPath   string
}

// New constructs a daemon. The interval comes from engine.scan_interval.
func New(cfg *config.Config, eng Engine, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || eng == nil {
		return nil, errors.New("daemon requires config and engine")
	}
	interval := time.Duration(cfg.Engine.ScanInterval) * time.Second
	if interval <= 0 {
		return nil, fmt.Errorf("engine.scan_interval must be positive, got %d", cfg.Engine.ScanInterval)
	}
	lockPath := filepath.Join(cfg.Paths.StateDir, LockName)
	return &Daemon{
		cfg:      cfg,
		engine:   eng,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		interval: interval,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the scan loop. The first run
// starts immediately.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another omzet watch instance holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running.Store(true)
	d.wg.Add(1)
	go d.loop(runCtx)

	d.logger.Info("omzet daemon started",
		logging.String("lock", d.lockPath),
		logging.Duration("interval", d.interval),
	)
	return nil
}

// Stop cancels the loop, waits for the in-flight run to abort, and releases
// the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next watch start may report a running instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("omzet daemon stopped")
}

// Wait blocks until the loop exits, either from Stop or ctx cancellation.
func (d *Daemon) Wait() {
	d.wg.Wait()
}

func (d *Daemon) loop(ctx context.Context) {
	defer d.wg.Done()
	for {
		d.tick(ctx)

		next := time.Now().Add(d.interval)
		d.mu.Lock()
		d.nextAt = next
		d.mu.Unlock()

		timer := time.NewTimer(d.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (d *Daemon) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := d.engine.RunAll(ctx)

	d.mu.Lock()
	d.runs++
	d.last = &report
	d.lastErr = err
	d.lastAt = time.Now()
	d.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		logging.ErrorWithContext(d.logger, "scheduled run failed", "daemon_run_failed",
			logging.Error(err),
			logging.ErrorHint("check configuration and ledger access"),
		)
		return
	}
	if report.Processed() > 0 || report.Busy > 0 {
		d.logger.Info("scheduled run finished",
			logging.EventType("daemon_run"),
			logging.Int("completed", report.Completed),
			logging.Int("skipped", report.Skipped),
			logging.Int("failed", report.Failed),
			logging.Int("busy", report.Busy),
		)
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Status{
		Running:      d.running.Load(),
		Runs:         d.runs,
		LastRun:      d.lastAt,
		NextRun:      d.nextAt,
		LastReport:   d.last,
		LastError:    d.lastErr,
		LockFilePath: d.lockPath,
		LedgerPath:   d.cfg.LedgerPath(),
	}
}

// LockPath returns the single-instance lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}
