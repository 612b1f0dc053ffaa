package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateTasks(); err != nil {
		return err
	}
	if err := c.validateWorkflows(); err != nil {
		return err
	}
	if err := c.validateLibraries(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEngine() error {
	if err := ensurePositiveMap(map[string]int{
		"engine.workers":       c.Engine.Workers,
		"engine.scan_interval": c.Engine.ScanInterval,
	}); err != nil {
		return err
	}
	if c.Engine.DefaultTimeout < 0 {
		return errors.New("engine.default_timeout must be >= 0")
	}
	switch c.Engine.Fingerprint {
	case FingerprintMTime, FingerprintSHA256:
	default:
		return fmt.Errorf("engine.fingerprint must be %q or %q, got %q", FingerprintMTime, FingerprintSHA256, c.Engine.Fingerprint)
	}
	return nil
}

func (c *Config) validateTasks() error {
	for _, id := range sortedKeys(c.Tasks) {
		if strings.TrimSpace(c.Tasks[id].Command) == "" {
			return fmt.Errorf("tasks.%s.command must be set", id)
		}
	}
	return nil
}

func (c *Config) validateWorkflows() error {
	for _, name := range sortedKeys(c.Workflows) {
		wf := c.Workflows[name]
		if len(wf.IncludedExtensions) == 0 {
			return fmt.Errorf("workflows.%s.included_extensions must include at least one extension", name)
		}
		seen := make(map[string]struct{}, len(wf.Tasks))
		for _, id := range wf.Tasks {
			if _, ok := c.Tasks[id]; !ok {
				return fmt.Errorf("workflows.%s references task %q, which does not exist", name, id)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("workflows.%s lists task %q more than once", name, id)
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

func (c *Config) validateLibraries() error {
	for _, name := range sortedKeys(c.Libraries) {
		lib := c.Libraries[name]
		if lib.Directory == "" {
			return fmt.Errorf("libraries.%s.directory must be set", name)
		}
		if _, ok := c.Workflows[lib.Workflow]; !ok {
			return fmt.Errorf("workflow with name %q, referenced by libraries.%s, does not exist", lib.Workflow, name)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for _, key := range sortedKeys(values) {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
