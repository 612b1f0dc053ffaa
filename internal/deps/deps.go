// Package deps reports whether the external programs omzet and its task
// scripts rely on are installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"omzet/internal/config"
)

// Requirement defines an external dependency omzet relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	// Path is the resolved executable when Available.
	Path   string
	Detail string
}

// Requirements lists the binaries cfg needs. ffprobe is only required when
// some task declares skip_codecs; ffmpeg is always optional since only task
// scripts call it.
func Requirements(cfg *config.Config) []Requirement {
	shell := "sh"
	ffprobe := "ffprobe"
	codecProbe := false
	if cfg != nil {
		if s := strings.TrimSpace(cfg.Engine.Shell); s != "" {
			shell = s
		}
		ffprobe = cfg.FFprobeBinary()
		for _, task := range cfg.Tasks {
			if len(task.SkipCodecs) > 0 {
				codecProbe = true
				break
			}
		}
	}
	return []Requirement{
		{Name: "Shell", Command: shell, Description: "Runs task probes and commands"},
		{Name: "FFprobe", Command: ffprobe, Description: "Built-in codec probe (skip_codecs)", Optional: !codecProbe},
		{Name: "FFmpeg", Command: "ffmpeg", Description: "Commonly used by task scripts", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(req))
	}
	return results
}

func check(req Requirement) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     cmd,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", cmd)
		return status
	}
	status.Available = true
	status.Path = path
	return status
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
