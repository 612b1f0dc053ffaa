package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"omzet/internal/config"
	"omzet/internal/engine"
	"omzet/internal/testsupport"
)

const appendCommand = `cat "$OMZET_INPUT" > "$OMZET_OUTPUT" && printf x >> "$OMZET_OUTPUT"`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, opts...)

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "omzet.toml")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func (e *cliTestEnv) file(name string) string {
	return filepath.Join(testsupport.LibraryDir(e.cfg, testsupport.DefaultLibrary), name)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--log-level", "error"}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Library movies")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestConfigShowPrintsEffectiveConfig(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithTask("tag", config.Task{Command: appendCommand}))
	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[tasks.tag]")
	requireContains(t, out, "scratchpad_directory")
}

func TestRunCommandProcessesLibrary(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithTask("tag", config.Task{Command: appendCommand}))
	testsupport.WriteText(t, env.file("a.mkv"), "a")

	out, _, err := runCLI(t, []string{"run", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var report reportView
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.Completed != 1 || len(report.Results) != 1 || report.Results[0].Outcome != "completed" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := testsupport.ReadText(t, env.file("a.mkv")); got != "ax" {
		t.Fatalf("unexpected content %q", got)
	}

	out, _, err = runCLI(t, []string{"run"}, env.configPath)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	requireContains(t, out, "1 already complete")
}

func TestRunCommandFailsWhenAFileFails(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithTask("broken", config.Task{Command: "exit 5"}))
	testsupport.WriteText(t, env.file("a.mkv"), "a")

	out, _, err := runCLI(t, []string{"run"}, env.configPath)
	if err == nil {
		t.Fatal("expected run to report failure")
	}
	requireContains(t, err.Error(), "1 file(s) failed")
	requireContains(t, out, "broken")
}

func TestLedgerCommands(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithTask("tag", config.Task{Command: appendCommand}))
	testsupport.WriteText(t, env.file("a.mkv"), "a")
	if _, _, err := runCLI(t, []string{"run"}, env.configPath); err != nil {
		t.Fatalf("run: %v", err)
	}

	out, _, err := runCLI(t, []string{"ledger", "list", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("ledger list: %v", err)
	}
	var entries []entryView
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != "complete" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	out, _, err = runCLI(t, []string{"ledger", "show", env.file("a.mkv")}, env.configPath)
	if err != nil {
		t.Fatalf("ledger show: %v", err)
	}
	requireContains(t, out, "complete")
	requireContains(t, out, "tag")

	out, _, err = runCLI(t, []string{"ledger", "stats"}, env.configPath)
	if err != nil {
		t.Fatalf("ledger stats: %v", err)
	}
	requireContains(t, out, "total")

	out, _, err = runCLI(t, []string{"ledger", "forget", env.file("a.mkv")}, env.configPath)
	if err != nil {
		t.Fatalf("ledger forget: %v", err)
	}
	requireContains(t, out, "Forgot")

	out, _, err = runCLI(t, []string{"ledger", "clear", "--failed"}, env.configPath)
	if err != nil {
		t.Fatalf("ledger clear: %v", err)
	}
	requireContains(t, out, "Removed 0 failed ledger entries")

	if _, _, err := runCLI(t, []string{"ledger", "show", "/elsewhere/file.mkv"}, env.configPath); err == nil {
		t.Fatal("expected error for file outside every library")
	}
}

func TestScratchCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	scratchDir := env.cfg.Workflows[testsupport.DefaultLibrary].ScratchpadDirectory
	testsupport.WriteText(t, filepath.Join(scratchDir, "omzet-dead", "01-tag.mkv"), "partial")
	testsupport.WriteText(t, filepath.Join(scratchDir, "unrelated", "keep"), "keep")

	out, _, err := runCLI(t, []string{"scratch", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("scratch list: %v", err)
	}
	requireContains(t, out, "dead")

	out, _, err = runCLI(t, []string{"scratch", "clean", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("scratch clean: %v", err)
	}
	requireContains(t, out, "Removed 1 workspace(s)")
	if _, err := os.Stat(filepath.Join(scratchDir, "unrelated", "keep")); err != nil {
		t.Fatalf("clean removed an unrelated directory: %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var view statusView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !view.ConfigExists || view.Libraries != 1 || view.Watching {
		t.Fatalf("unexpected status: %+v", view)
	}
	if len(view.Dependencies) == 0 || view.Dependencies[0].Name != "Shell" || !view.Dependencies[0].Available {
		t.Fatalf("expected available shell dependency: %+v", view.Dependencies)
	}
}

func TestLogsCommandTailsAndFilters(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log entries available")

	body := strings.Join([]string{
		`{"level":"info","msg":"first","library":"movies"}`,
		`{"level":"info","msg":"second","library":"shows"}`,
		`{"level":"info","msg":"third","library":"movies"}`,
	}, "\n") + "\n"
	testsupport.WriteText(t, filepath.Join(env.cfg.Paths.LogDir, "omzet.log"), body)

	out, _, err = runCLI(t, []string{"logs", "-n", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("logs -n 1: %v", err)
	}
	if strings.Contains(out, "second") || !strings.Contains(out, "third") {
		t.Fatalf("unexpected tail output %q", out)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "0", "--library", "shows"}, env.configPath)
	if err != nil {
		t.Fatalf("logs --library: %v", err)
	}
	if strings.TrimSpace(out) != `{"level":"info","msg":"second","library":"shows"}` {
		t.Fatalf("unexpected filtered output %q", out)
	}
}

func TestWatchStopWhenIdle(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"watch", "stop"}, env.configPath)
	if err != nil {
		t.Fatalf("watch stop: %v", err)
	}
	requireContains(t, out, "not running")
}

func TestScratchCleanAllRefusesDuringRun(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatalf("mkdir state: %v", err)
	}
	running := flock.New(filepath.Join(env.cfg.Paths.StateDir, engine.RunLockName))
	if ok, err := running.TryRLock(); err != nil || !ok {
		t.Fatalf("rlock: ok=%v err=%v", ok, err)
	}
	defer running.Unlock()

	_, _, err := runCLI(t, []string{"scratch", "clean", "--all"}, env.configPath)
	if err == nil {
		t.Fatal("expected clean --all to refuse while a run holds the lock")
	}
	requireContains(t, err.Error(), "run is active")
}
