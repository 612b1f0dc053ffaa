package config

import (
	"time"

	"omzet/internal/catalog"
)

// Catalog resolves the validated configuration into the engine model.
// Workflows are shared between libraries that reference the same name.
func (c *Config) Catalog() *catalog.Catalog {
	out := &catalog.Catalog{
		Workflows: make(map[string]*catalog.Workflow, len(c.Workflows)),
	}
	for _, name := range sortedKeys(c.Workflows) {
		wf := c.Workflows[name]
		resolved := &catalog.Workflow{
			Name:          name,
			ScratchpadDir: wf.ScratchpadDirectory,
			Extensions:    append([]string(nil), wf.IncludedExtensions...),
			Tasks:         make([]catalog.Task, 0, len(wf.Tasks)),
		}
		for _, id := range wf.Tasks {
			resolved.Tasks = append(resolved.Tasks, c.resolveTask(id))
		}
		out.Workflows[name] = resolved
	}
	for _, name := range sortedKeys(c.Libraries) {
		lib := c.Libraries[name]
		out.Libraries = append(out.Libraries, catalog.Library{
			Name:      name,
			Directory: lib.Directory,
			Workflow:  out.Workflows[lib.Workflow],
		})
	}
	return out
}

func (c *Config) resolveTask(id string) catalog.Task {
	task := c.Tasks[id]
	timeout := task.Timeout
	if timeout == 0 {
		timeout = c.Engine.DefaultTimeout
	}
	return catalog.Task{
		ID:          id,
		Description: task.Description,
		Probe:       task.Probe,
		Command:     task.Command,
		Timeout:     time.Duration(timeout) * time.Second,
		SkipCodecs:  append([]string(nil), task.SkipCodecs...),
	}
}
