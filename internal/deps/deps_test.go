package deps

import (
	"os"
	"path/filepath"
	"testing"

	"omzet/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
	if got := Missing(results); len(got) != 2 {
		t.Fatalf("expected two missing requirements, got %d", len(got))
	}
}

func TestRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Shell = "bash"
	cfg.Tasks = map[string]config.Task{"plain": {Command: "true"}}

	reqs := Requirements(&cfg)
	if reqs[0].Command != "bash" || reqs[0].Optional {
		t.Fatalf("unexpected shell requirement: %#v", reqs[0])
	}
	if !reqs[1].Optional {
		t.Fatal("ffprobe should be optional without skip_codecs tasks")
	}

	cfg.Tasks["h265_encoder"] = config.Task{Command: "true", SkipCodecs: []string{"hevc"}}
	reqs = Requirements(&cfg)
	if reqs[1].Optional {
		t.Fatal("ffprobe should be required when a task uses skip_codecs")
	}
}

func TestMissingIgnoresOptional(t *testing.T) {
	statuses := []Status{
		{Name: "FFmpeg", Optional: true},
		{Name: "Shell", Available: true},
	}
	if got := Missing(statuses); len(got) != 0 {
		t.Fatalf("expected no missing requirements, got %#v", got)
	}
}
