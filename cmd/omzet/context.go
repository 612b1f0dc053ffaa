package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"omzet/internal/config"
	"omzet/internal/ledger"
	"omzet/internal/logging"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
	jsonFlag     *bool

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, logLevelFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		jsonFlag:     jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		c.configPath = resolved
		c.configExists = exists
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// JSONMode reports whether --json was given.
func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) logLevel() string {
	if c.logLevelFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.logLevelFlag)
}

// newLogger writes console logs to stderr and a JSON copy to the log file.
func (c *commandContext) newLogger(cfg *config.Config, development bool) (*slog.Logger, error) {
	level := c.logLevel()
	if level == "" {
		level = cfg.Logging.Level
	}
	format := cfg.Logging.Format
	if c.JSONMode() {
		format = "json"
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      format,
		FilePath:    filepath.Join(cfg.Paths.LogDir, logging.LogFileName),
		Development: development,
	})
}

func (c *commandContext) withLedger(fn func(*config.Config, *ledger.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// resolveKey maps a file argument to its ledger key, inferring the library
// from the configured directories when --library is empty.
func resolveKey(cfg *config.Config, library, arg string) (ledger.Key, error) {
	path, err := config.ExpandPath(arg)
	if err != nil {
		return ledger.Key{}, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if library != "" {
		if _, ok := cfg.Libraries[library]; !ok {
			return ledger.Key{}, fmt.Errorf("library %q is not configured", library)
		}
		return ledger.Key{Library: library, Path: path}, nil
	}
	for _, name := range cfg.Catalog().LibraryNames() {
		dir := cfg.Libraries[name].Directory
		if rel, err := filepath.Rel(dir, path); err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			return ledger.Key{Library: name, Path: path}, nil
		}
	}
	return ledger.Key{}, fmt.Errorf("%s is not inside any configured library; pass --library", path)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
