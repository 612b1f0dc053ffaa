package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"omzet/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckScratchpad_PendingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	result := CheckScratchpad("scratch", dir, 0)
	if !result.Passed {
		t.Fatalf("expected pass for creatable scratchpad, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "created on first use") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("check must not create the scratchpad")
	}
}

func TestCheckScratchpad_InsufficientSpace(t *testing.T) {
	result := CheckScratchpad("scratch", t.TempDir(), 1<<62)
	if result.Passed {
		t.Fatal("expected failure when free space is below the threshold")
	}
	if !strings.Contains(result.Detail, "below") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestRunAllCoversLibrariesAndScratchpads(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = base
	cfg.Paths.LogDir = base
	cfg.Engine.MinFreeMiB = 0
	cfg.Libraries = map[string]config.Library{
		"movies": {Directory: base, Workflow: "wf"},
		"gone":   {Directory: filepath.Join(base, "missing"), Workflow: "wf"},
	}
	cfg.Workflows = map[string]config.Workflow{
		"wf": {ScratchpadDirectory: filepath.Join(base, "scratch")},
	}

	results := RunAll(&cfg)
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	want := "State directory,Log directory,Library gone,Library movies,Scratchpad wf"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("checks = %q, want %q", got, want)
	}

	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Library gone" {
		t.Fatalf("unexpected failures: %#v", failed)
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if results := RunAll(nil); results != nil {
		t.Fatalf("expected no results, got %#v", results)
	}
}
