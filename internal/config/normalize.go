package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeLogging()
	if err := c.normalizeLibraries(); err != nil {
		return err
	}
	if err := c.normalizeWorkflows(); err != nil {
		return err
	}
	c.normalizeTasks()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if value, ok := os.LookupEnv("OMZET_STATE_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.StateDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() {
	c.Engine.Fingerprint = strings.ToLower(strings.TrimSpace(c.Engine.Fingerprint))
	if c.Engine.Fingerprint == "" {
		c.Engine.Fingerprint = defaultFingerprint
	}
	c.Engine.Shell = strings.TrimSpace(c.Engine.Shell)
	if c.Engine.Shell == "" {
		c.Engine.Shell = defaultShell
	}
	if c.Engine.KillGrace <= 0 {
		c.Engine.KillGrace = defaultKillGrace
	}
	if c.Engine.OrphanMaxAge < 0 {
		c.Engine.OrphanMaxAge = 0
	}
	if c.Engine.MinFreeMiB < 0 {
		c.Engine.MinFreeMiB = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeLibraries() error {
	for name, lib := range c.Libraries {
		dir, err := expandPath(strings.TrimSpace(lib.Directory))
		if err != nil {
			return fmt.Errorf("libraries.%s.directory: %w", name, err)
		}
		lib.Directory = dir
		lib.Workflow = strings.TrimSpace(lib.Workflow)
		c.Libraries[name] = lib
	}
	return nil
}

func (c *Config) normalizeWorkflows() error {
	for name, wf := range c.Workflows {
		scratch := strings.TrimSpace(wf.ScratchpadDirectory)
		if scratch == "" {
			scratch = defaultScratchpadRoot
		}
		dir, err := expandPath(scratch)
		if err != nil {
			return fmt.Errorf("workflows.%s.scratchpad_directory: %w", name, err)
		}
		wf.ScratchpadDirectory = dir
		wf.IncludedExtensions = normalizeExtensions(wf.IncludedExtensions)
		tasks := make([]string, 0, len(wf.Tasks))
		for _, id := range wf.Tasks {
			if id = strings.TrimSpace(id); id != "" {
				tasks = append(tasks, id)
			}
		}
		wf.Tasks = tasks
		c.Workflows[name] = wf
	}
	return nil
}

func (c *Config) normalizeTasks() {
	for id, task := range c.Tasks {
		task.Description = strings.TrimSpace(task.Description)
		task.Probe = strings.TrimSpace(task.Probe)
		task.Command = strings.TrimSpace(task.Command)
		if task.Timeout < 0 {
			task.Timeout = 0
		}
		codecs := make([]string, 0, len(task.SkipCodecs))
		for _, codec := range task.SkipCodecs {
			if codec = strings.ToLower(strings.TrimSpace(codec)); codec != "" {
				codecs = append(codecs, codec)
			}
		}
		task.SkipCodecs = codecs
		c.Tasks[id] = task
	}
}

// normalizeExtensions lowercases, strips leading dots, and removes duplicates.
func normalizeExtensions(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, ext := range values {
		normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
