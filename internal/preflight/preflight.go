package preflight

import (
	"fmt"
	"sort"

	"omzet/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// State directory (always checked)
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}

	libraries := make([]string, 0, len(cfg.Libraries))
	for name := range cfg.Libraries {
		libraries = append(libraries, name)
	}
	sort.Strings(libraries)
	for _, name := range libraries {
		results = append(results, CheckDirectoryAccess(fmt.Sprintf("Library %s", name), cfg.Libraries[name].Directory))
	}

	minFree := uint64(0)
	if cfg.Engine.MinFreeMiB > 0 {
		minFree = uint64(cfg.Engine.MinFreeMiB) << 20
	}
	seen := make(map[string]struct{})
	workflows := make([]string, 0, len(cfg.Workflows))
	for name := range cfg.Workflows {
		workflows = append(workflows, name)
	}
	sort.Strings(workflows)
	for _, name := range workflows {
		dir := cfg.Workflows[name].ScratchpadDirectory
		if _, ok := seen[dir]; ok || dir == "" {
			continue
		}
		seen[dir] = struct{}{}
		results = append(results, CheckScratchpad(fmt.Sprintf("Scratchpad %s", name), dir, minFree))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
