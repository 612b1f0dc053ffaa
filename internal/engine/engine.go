package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"omzet/internal/catalog"
	"omzet/internal/config"
	"omzet/internal/keylock"
	"omzet/internal/ledger"
	"omzet/internal/logging"
	"omzet/internal/pipeline"
	"omzet/internal/probe"
	"omzet/internal/scanner"
	"omzet/internal/scratch"
	"omzet/internal/script"
	"omzet/internal/services"
)

// RunLockName is the state directory file coordinating recovery between
// concurrent engine runs.
const RunLockName = "run.lock"

// JobRunner executes one job. *pipeline.Pipeline satisfies it.
type JobRunner interface {
	Run(ctx context.Context, job pipeline.Job) pipeline.Result
}

// Ledger is the subset of the completion ledger the engine reads and repairs.
type Ledger interface {
	IsComplete(ctx context.Context, key ledger.Key, fingerprint string) (bool, error)
	ResetRunning(ctx context.Context) (int64, error)
}

// Engine coordinates scans and pipeline runs.
type Engine struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	store   Ledger
	locker  *keylock.Locker
	jobs    JobRunner
	scanner *scanner.Scanner
	logger  *slog.Logger
}

// New constructs an engine from explicit collaborators.
func New(cfg *config.Config, cat *catalog.Catalog, store Ledger, locker *keylock.Locker, jobs JobRunner, scan *scanner.Scanner, logger *slog.Logger) *Engine {
	if scan == nil {
		scan = scanner.New(logger)
	}
	return &Engine{
		cfg:     cfg,
		catalog: cat,
		store:   store,
		locker:  locker,
		jobs:    jobs,
		scanner: scan,
		logger:  logging.NewComponentLogger(logger, "engine"),
	}
}

// NewFromConfig wires the default shell runner, probe evaluator, pipeline,
// scanner, and key locker for cfg.
func NewFromConfig(cfg *config.Config, store *ledger.Store, logger *slog.Logger) (*Engine, error) {
	locker, err := keylock.New(cfg.LockDir())
	if err != nil {
		return nil, err
	}
	runner := script.NewShellRunner(cfg.Engine.Shell, time.Duration(cfg.Engine.KillGrace)*time.Second)
	evaluator := probe.NewEvaluator(runner,
		probe.WithFFprobeBinary(cfg.FFprobeBinary()),
		probe.WithLogger(logging.NewComponentLogger(logger, "probe")),
	)
	jobs := pipeline.New(runner, evaluator, store, cfg.Engine.Fingerprint, logger)
	return New(cfg, cfg.Catalog(), store, locker, jobs, scanner.New(logger), logger), nil
}

// RunAll processes every configured library once.
func (e *Engine) RunAll(ctx context.Context) (Report, error) {
	return e.run(ctx, e.catalog.Libraries)
}

// RunLibrary processes the named library once.
func (e *Engine) RunLibrary(ctx context.Context, name string) (Report, error) {
	lib, err := e.catalog.Library(name)
	if err != nil {
		return Report{}, services.Wrap(services.ErrConfiguration, "engine", "library", "", err)
	}
	return e.run(ctx, []catalog.Library{lib})
}

func (e *Engine) run(ctx context.Context, libs []catalog.Library) (Report, error) {
	started := time.Now()
	correlationID := uuid.NewString()
	ctx = services.WithRequestID(ctx, correlationID)
	logger := logging.WithContext(ctx, e.logger)

	release, err := e.prepare(ctx, libs, logger)
	if err != nil {
		return Report{CorrelationID: correlationID}, err
	}
	defer release()

	logger.Info("engine run started",
		logging.Int("libraries", len(libs)),
		logging.Int("workers", e.workers()),
	)

	acc := &collector{}
	var g errgroup.Group
	g.SetLimit(e.workers())

dispatch:
	for _, lib := range libs {
		libLogger := logger.With(logging.String(logging.FieldLibrary, lib.Name))
		for cand, scanErr := range e.scanner.Scan(ctx, lib) {
			if ctx.Err() != nil {
				break dispatch
			}
			if scanErr != nil {
				acc.scanError()
				logging.WarnWithContext(libLogger, "library scan error", "scan_error",
					logging.Error(scanErr),
					logging.String(logging.FieldImpact, "some files were not considered this run"),
					logging.ErrorHint("check library directory permissions"),
				)
				continue
			}
			g.Go(func() error {
				acc.add(e.process(ctx, lib, cand))
				return nil
			})
		}
	}
	_ = g.Wait()

	report := acc.snapshot()
	report.CorrelationID = correlationID
	report.Duration = time.Since(started)

	logger.Info("engine run finished",
		logging.Int("completed", report.Completed),
		logging.Int("skipped", report.Skipped),
		logging.Int("failed", report.Failed),
		logging.Int("interrupted", report.Interrupted),
		logging.Int("already_complete", report.AlreadyComplete),
		logging.Int("busy", report.Busy),
		logging.Duration("duration", report.Duration),
	)

	if err := ctx.Err(); err != nil {
		return report, services.Wrap(services.ErrInterrupted, "engine", "run", "cancelled", err)
	}
	return report, nil
}

// process handles one candidate: lock, ledger check, pipeline.
func (e *Engine) process(ctx context.Context, lib catalog.Library, cand scanner.Candidate) pipeline.Result {
	key := ledger.Key{Library: lib.Name, Path: cand.Path}
	result := pipeline.Result{Library: lib.Name, Path: cand.Path, ExitCode: -1}
	logger := logging.WithContext(ctx, e.logger).With(
		logging.String(logging.FieldLibrary, lib.Name),
		logging.String(logging.FieldPath, cand.Path),
	)

	if ctx.Err() != nil {
		result.Outcome = pipeline.OutcomeInterrupted
		result.Err = services.Wrap(services.ErrInterrupted, "engine", "dispatch", "cancelled", ctx.Err())
		return result
	}

	// Unlocked pre-check keeps steady-state scans from touching lock files.
	if done, err := e.complete(ctx, key); err == nil && done {
		result.Outcome = pipeline.OutcomeAlreadyComplete
		return result
	}

	release, ok, err := e.locker.TryAcquire(key.String())
	if err != nil {
		result.Outcome = pipeline.OutcomeFailed
		result.Err = services.Wrap(services.ErrStageIO, "engine", "lock", cand.Path, err)
		logging.ErrorWithContext(logger, "key lock failed", "lock_failed", logging.Error(err),
			logging.ErrorHint("check state_dir permissions"))
		return result
	}
	if !ok {
		logger.Info("file busy", logging.EventType("file_busy"))
		result.Outcome = pipeline.OutcomeBusy
		return result
	}
	defer release()

	done, err := e.complete(ctx, key)
	if err != nil {
		result.Outcome = pipeline.OutcomeFailed
		result.Err = err
		logging.ErrorWithContext(logger, "ledger lookup failed", "ledger_lookup_failed", logging.Error(err),
			logging.ErrorHint("check the ledger database"))
		return result
	}
	if done {
		result.Outcome = pipeline.OutcomeAlreadyComplete
		return result
	}

	return e.jobs.Run(ctx, pipeline.Job{
		ID:       uuid.NewString(),
		Library:  lib.Name,
		Source:   cand.Path,
		Workflow: lib.Workflow,
	})
}

func (e *Engine) complete(ctx context.Context, key ledger.Key) (bool, error) {
	fingerprint, err := ledger.Fingerprint(key.Path, e.cfg.Engine.Fingerprint)
	if err != nil {
		return false, services.Wrap(services.ErrStageIO, "engine", "fingerprint", key.Path, err)
	}
	done, err := e.store.IsComplete(ctx, key, fingerprint)
	if err != nil {
		return false, services.Wrap(services.ErrTransient, "engine", "ledger", "lookup", err)
	}
	return done, nil
}

// prepare performs crash recovery and returns the release func of the shared
// run lock. Recovery only runs while no other engine holds the run lock;
// otherwise only workspaces past orphan_max_age are reclaimed.
func (e *Engine) prepare(ctx context.Context, libs []catalog.Library, logger *slog.Logger) (func(), error) {
	if err := e.cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrStageIO, "engine", "prepare", "state directories", err)
	}
	// Scratchpads exist before the scan so the walker can exclude them by identity.
	made := make(map[string]struct{}, len(libs))
	for _, lib := range libs {
		if lib.Workflow == nil {
			continue
		}
		dir := lib.Workflow.ScratchpadDir
		if _, ok := made[dir]; ok || dir == "" {
			continue
		}
		made[dir] = struct{}{}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, services.Wrap(services.ErrStageIO, "engine", "prepare", "scratchpad "+dir, err)
		}
	}
	runLock := flock.New(filepath.Join(e.cfg.Paths.StateDir, RunLockName))

	exclusive, err := runLock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrStageIO, "engine", "prepare", "run lock", err)
	}
	if exclusive {
		e.recover(ctx, libs, true, logger)
		if err := runLock.Unlock(); err != nil {
			return nil, services.Wrap(services.ErrStageIO, "engine", "prepare", "run lock", err)
		}
	} else {
		e.recover(ctx, libs, false, logger)
	}

	// Shared while running so another engine's recovery waits its turn.
	if err := runLock.RLock(); err != nil {
		return nil, services.Wrap(services.ErrStageIO, "engine", "prepare", "run lock", err)
	}
	e.checkFreeSpace(libs, logger)
	return func() { _ = runLock.Unlock() }, nil
}

// recover reclaims stale state. An exclusive engine is the only one running,
// so every workspace and running ledger row is stale; otherwise only
// workspaces older than orphan_max_age are removed.
func (e *Engine) recover(ctx context.Context, libs []catalog.Library, exclusive bool, logger *slog.Logger) {
	maxAge := time.Duration(e.cfg.Engine.OrphanMaxAge) * time.Second
	if exclusive {
		maxAge = 0
		if n, err := e.store.ResetRunning(ctx); err != nil {
			logging.WarnWithContext(logger, "ledger reset failed", "ledger_reset_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "interrupted files stay marked running"),
			)
		} else if n > 0 {
			logger.Info("reset interrupted ledger entries",
				logging.Int64("count", n),
				logging.EventType("ledger_recovered"),
			)
		}
	} else if maxAge <= 0 {
		return
	}

	seen := make(map[string]struct{})
	for _, lib := range libs {
		if lib.Workflow == nil {
			continue
		}
		dir := lib.Workflow.ScratchpadDir
		if _, ok := seen[dir]; !ok {
			seen[dir] = struct{}{}
			res := scratch.CleanOrphans(ctx, dir, maxAge, nil, logger)
			if len(res.Removed) > 0 {
				logger.Info("removed orphaned workspaces",
					logging.Int("count", len(res.Removed)),
					logging.String("scratchpad", dir),
					logging.EventType("scratch_cleanup"),
				)
			}
		}
		if exclusive {
			scratch.CleanStaleTemps(ctx, lib.Directory, 0, logger)
		}
	}
}

func (e *Engine) checkFreeSpace(libs []catalog.Library, logger *slog.Logger) {
	if e.cfg.Engine.MinFreeMiB <= 0 {
		return
	}
	threshold := uint64(e.cfg.Engine.MinFreeMiB) << 20
	seen := make(map[string]struct{})
	for _, lib := range libs {
		if lib.Workflow == nil {
			continue
		}
		dir := lib.Workflow.ScratchpadDir
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		free, err := scratch.FreeBytes(dir)
		if err != nil {
			logger.Debug("free space check failed", logging.String("scratchpad", dir), logging.Error(err))
			continue
		}
		if free < threshold {
			logging.WarnWithContext(logger, "scratchpad low on space", "scratch_low_space",
				logging.String("scratchpad", dir),
				logging.Uint64("free_bytes", free),
				logging.Int("min_free_mib", e.cfg.Engine.MinFreeMiB),
				logging.String(logging.FieldImpact, "tasks may fail writing outputs"),
				logging.ErrorHint("free space or move scratchpad_directory"),
			)
		}
	}
}

func (e *Engine) workers() int {
	if e.cfg.Engine.Workers < 1 {
		return 1
	}
	return e.cfg.Engine.Workers
}

var errNoLibraries = errors.New("no libraries configured")

// Validate reports configuration problems that make a run pointless.
func (e *Engine) Validate() error {
	if len(e.catalog.Libraries) == 0 {
		return services.Wrap(services.ErrConfiguration, "engine", "validate", "", errNoLibraries)
	}
	for _, lib := range e.catalog.Libraries {
		if lib.Workflow == nil {
			return services.Wrap(services.ErrConfiguration, "engine", "validate", "",
				fmt.Errorf("library %q has no workflow", lib.Name))
		}
	}
	return nil
}
