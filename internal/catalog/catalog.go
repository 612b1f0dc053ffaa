// Package catalog holds the validated, immutable model of libraries,
// workflows, and tasks that the execution engine consumes.
//
// Values are produced by config.Config.Catalog and never mutated afterwards;
// many scans and jobs share the same Workflow pointer concurrently.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Task is a single pipeline step: an optional probe plus a required command.
type Task struct {
	ID          string
	Description string
	Probe       string
	Command     string
	Timeout     time.Duration
	// SkipCodecs lists video codec names that make the built-in codec probe
	// skip the task (for example "hevc" for an H.265 encoder).
	SkipCodecs []string
}

// HasProbe reports whether the task declares a probe script.
func (t Task) HasProbe() bool {
	return strings.TrimSpace(t.Probe) != ""
}

// HasCodecProbe reports whether the built-in codec probe applies.
func (t Task) HasCodecProbe() bool {
	return len(t.SkipCodecs) > 0
}

// Label returns the description when present, otherwise the ID.
func (t Task) Label() string {
	if d := strings.TrimSpace(t.Description); d != "" {
		return d
	}
	return t.ID
}

// Workflow is an ordered task list bound to a scratchpad and an extension set.
type Workflow struct {
	Name          string
	ScratchpadDir string
	// Extensions are lowercase and carry no leading dot.
	Extensions []string
	Tasks      []Task
}

// TaskIDs returns the ordered task identifiers.
func (w *Workflow) TaskIDs() []string {
	ids := make([]string, 0, len(w.Tasks))
	for _, task := range w.Tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

// Library binds a directory tree to one workflow.
type Library struct {
	Name      string
	Directory string
	Workflow  *Workflow
}

// Catalog is the complete engine model.
type Catalog struct {
	Libraries []Library
	Workflows map[string]*Workflow
}

// Library looks up a library by name.
func (c *Catalog) Library(name string) (Library, error) {
	for _, lib := range c.Libraries {
		if lib.Name == name {
			return lib, nil
		}
	}
	return Library{}, fmt.Errorf("library %q is not configured", name)
}

// LibraryNames returns the configured library names in sorted order.
func (c *Catalog) LibraryNames() []string {
	names := make([]string, 0, len(c.Libraries))
	for _, lib := range c.Libraries {
		names = append(names, lib.Name)
	}
	sort.Strings(names)
	return names
}
