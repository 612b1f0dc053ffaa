package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"omzet/internal/config"
)

// DefaultLibrary is the library and workflow name NewConfig creates.
const DefaultLibrary = "movies"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a validated config seeded with unique temp directories
// per test: a "movies" library bound to a "movies" workflow accepting mkv and
// mp4, with no tasks unless options add them.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Engine.KillGrace = 1
	cfgVal.Libraries = map[string]config.Library{
		DefaultLibrary: {Directory: filepath.Join(base, "library", DefaultLibrary), Workflow: DefaultLibrary},
	}
	cfgVal.Workflows = map[string]config.Workflow{
		DefaultLibrary: {
			ScratchpadDirectory: filepath.Join(base, "scratch"),
			IncludedExtensions:  []string{"mkv", "mp4"},
		},
	}
	cfgVal.Tasks = map[string]config.Task{}

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}

	for _, lib := range builder.cfg.Libraries {
		if err := os.MkdirAll(lib.Directory, 0o755); err != nil {
			t.Fatalf("mkdir library: %v", err)
		}
	}
	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithTask defines a task and appends it to the default workflow.
func WithTask(id string, task config.Task) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tasks[id] = task
		wf := b.cfg.Workflows[DefaultLibrary]
		wf.Tasks = append(wf.Tasks, id)
		b.cfg.Workflows[DefaultLibrary] = wf
	}
}

// WithWorkers sets the engine worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Workers = n
	}
}

// WithFingerprint selects the change detection mode.
func WithFingerprint(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Fingerprint = mode
	}
}

// WithLibrary adds another library bound to the default workflow.
func WithLibrary(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Libraries[name] = config.Library{
			Directory: filepath.Join(b.baseDir, "library", name),
			Workflow:  DefaultLibrary,
		}
	}
}

// WithScratchpad moves the default workflow's scratchpad to rel, relative to
// the base directory.
func WithScratchpad(rel string) ConfigOption {
	return func(b *configBuilder) {
		wf := b.cfg.Workflows[DefaultLibrary]
		wf.ScratchpadDirectory = filepath.Join(b.baseDir, rel)
		b.cfg.Workflows[DefaultLibrary] = wf
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffprobe is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// LibraryDir returns the directory of the named library.
func LibraryDir(cfg *config.Config, name string) string {
	return cfg.Libraries[name].Directory
}
