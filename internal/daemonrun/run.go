// Package daemonrun wires the long-running watch process: logging, ledger,
// engine, and daemon, with SIGINT/SIGTERM handling.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"omzet/internal/config"
	"omzet/internal/daemon"
	"omzet/internal/deps"
	"omzet/internal/engine"
	"omzet/internal/ledger"
	"omzet/internal/logging"
	"omzet/internal/preflight"
)

// PIDFileName is written to the state directory while the watch process runs.
const PIDFileName = "omzet.pid"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Logger overrides the logger built from cfg.
	Logger *slog.Logger
}

// Run blocks until cmdCtx is cancelled or the process receives SIGINT or
// SIGTERM. Running jobs are terminated and their files retried next time.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{
			Level:       firstNonEmpty(opts.LogLevel, cfg.Logging.Level),
			Format:      cfg.Logging.Format,
			FilePath:    filepath.Join(cfg.Paths.LogDir, logging.LogFileName),
			Development: opts.Development,
		})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	}

	logDependencySnapshot(logger, cfg)
	logPreflight(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := ledger.Open(cfg)
	if err != nil {
		logger.Error("open ledger", logging.Error(err))
		return err
	}
	defer store.Close()

	eng, err := engine.NewFromConfig(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if err := eng.Validate(); err != nil {
		return err
	}

	d, err := daemon.New(cfg, eng, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}
	defer d.Stop()

	<-signalCtx.Done()
	logger.Info("omzet daemon shutting down")
	return nil
}

// ReadPID returns the pid recorded by a running watch process, if any.
func ReadPID(cfg *config.Config) (int, bool) {
	data, err := os.ReadFile(filepath.Join(cfg.Paths.StateDir, PIDFileName))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(trimNewline(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func writePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	attrs := []logging.Attr{logging.EventType("dependency_snapshot")}
	for _, s := range statuses {
		attrs = append(attrs, logging.Bool(s.Name+"_available", s.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	for _, missing := range deps.Missing(statuses) {
		logging.WarnWithContext(logger, "required dependency missing", "dependency_missing",
			logging.String("dependency", missing.Name),
			logging.String("command", missing.Command),
			logging.String(logging.FieldImpact, "tasks depending on it will fail"),
			logging.ErrorHint("install it or adjust the configuration"),
		)
	}
}

func logPreflight(logger *slog.Logger, cfg *config.Config) {
	for _, check := range preflight.Failed(preflight.RunAll(cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldImpact, "files under this path may fail to process"),
			logging.ErrorHint("fix the directory or its permissions"),
		)
	}
}
