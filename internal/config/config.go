package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state and log directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir" yaml:"state_dir"`
	LogDir   string `toml:"log_dir" yaml:"log_dir"`
}

// Engine contains execution engine tuning.
type Engine struct {
	// Workers bounds the number of files processed in parallel.
	Workers int `toml:"workers" yaml:"workers"`
	// Fingerprint selects change detection: "mtime" (size + modification time)
	// or "sha256" (content hash).
	Fingerprint string `toml:"fingerprint" yaml:"fingerprint"`
	// DefaultTimeout applies to tasks without their own timeout, in seconds. 0 disables.
	DefaultTimeout int `toml:"default_timeout" yaml:"default_timeout"`
	// KillGrace is the delay between SIGTERM and SIGKILL, in seconds.
	KillGrace int `toml:"kill_grace" yaml:"kill_grace"`
	// OrphanMaxAge is the age after which unowned scratch workspaces are removed, in seconds.
	OrphanMaxAge int `toml:"orphan_max_age" yaml:"orphan_max_age"`
	// ScanInterval is the delay between library scans in watch mode, in seconds.
	ScanInterval int `toml:"scan_interval" yaml:"scan_interval"`
	// MinFreeMiB triggers a warning when a scratchpad has less free space.
	MinFreeMiB int    `toml:"min_free_mib" yaml:"min_free_mib"`
	Shell      string `toml:"shell" yaml:"shell"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" yaml:"format"`
	Level  string `toml:"level" yaml:"level"`
}

// Library binds a directory to a workflow.
type Library struct {
	Directory string `toml:"directory" yaml:"directory"`
	Workflow  string `toml:"workflow" yaml:"workflow"`
}

// Workflow names an ordered list of task IDs.
type Workflow struct {
	ScratchpadDirectory string   `toml:"scratchpad_directory" yaml:"scratchpad_directory"`
	IncludedExtensions  []string `toml:"included_extensions" yaml:"included_extensions"`
	Tasks               []string `toml:"tasks" yaml:"tasks"`
}

// Task is one entry of the task catalog.
type Task struct {
	Description string   `toml:"description" yaml:"description"`
	Probe       string   `toml:"probe" yaml:"probe"`
	Command     string   `toml:"command" yaml:"command"`
	Timeout     int      `toml:"timeout" yaml:"timeout"`
	SkipCodecs  []string `toml:"skip_codecs" yaml:"skip_codecs"`
}

// Config encapsulates all configuration values for omzet.
//
// Configuration sections:
//   - Paths: ledger state and log directories
//   - Engine: worker count, change detection, timeouts, watch interval
//   - Logging: log format and level
//   - Libraries, Workflows, Tasks: the processing model keyed by name
type Config struct {
	Paths     Paths               `toml:"paths" yaml:"paths"`
	Engine    Engine              `toml:"engine" yaml:"engine"`
	Logging   Logging             `toml:"logging" yaml:"logging"`
	Libraries map[string]Library  `toml:"libraries" yaml:"libraries"`
	Workflows map[string]Workflow `toml:"workflows" yaml:"workflows"`
	Tasks     map[string]Task     `toml:"tasks" yaml:"tasks"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		if err := decodeFile(resolvedPath, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("omzet.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories. Scratchpads are
// created by the engine before each scan.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns the SQLite database location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "state.db")
}

// LockDir returns the directory holding per-file lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// FFprobeBinary returns the ffprobe executable name used by the codec probe.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Sample returns the embedded sample configuration.
func Sample() string {
	return sampleConfig
}
