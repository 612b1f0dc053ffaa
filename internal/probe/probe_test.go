package probe_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"omzet/internal/catalog"
	"omzet/internal/media/ffprobe"
	"omzet/internal/probe"
	"omzet/internal/script"
	"omzet/internal/services"
)

func newEnv() map[string]string {
	return map[string]string{probe.EnvInput: "/tmp/in.mkv", probe.EnvOutput: "/tmp/out.mkv"}
}

func TestEvaluateExitContract(t *testing.T) {
	runner := script.NewShellRunner("sh", time.Second)
	cases := []struct {
		name  string
		probe string
		want  probe.Decision
		code  int
	}{
		{name: "no probe", probe: "", want: probe.Required, code: -1},
		{name: "exit zero", probe: "exit 0", want: probe.Required, code: 0},
		{name: "exit one", probe: "exit 1", want: probe.Skip, code: 1},
		{name: "exit two", probe: "exit 2", want: probe.Error, code: 2},
		{name: "command not found", probe: "definitely-not-a-command-omzet", want: probe.Error, code: 127},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := catalog.Task{ID: "t", Probe: tc.probe, Command: "true"}
			res := probe.Evaluate(context.Background(), runner, task, newEnv(), "")
			if res.Decision != tc.want || res.ExitCode != tc.code {
				t.Fatalf("got %s/%d, want %s/%d", res.Decision, res.ExitCode, tc.want, tc.code)
			}
			if tc.want == probe.Error {
				var probeErr *probe.ProbeError
				if !errors.As(res.Err, &probeErr) || probeErr.Task != "t" {
					t.Fatalf("expected ProbeError, got %v", res.Err)
				}
				if !errors.Is(res.Err, services.ErrConfiguration) {
					t.Fatal("expected unexpected exit code to be a configuration error")
				}
			}
		})
	}
}

func TestEvaluateBindsTaskAndIO(t *testing.T) {
	runner := script.NewShellRunner("sh", time.Second)
	task := catalog.Task{
		ID:    "h265_encoder",
		Probe: `[ "$OMZET_TASK" = h265_encoder ] && [ "$OMZET_INPUT" = /tmp/in.mkv ] && [ "$OMZET_OUTPUT" = /tmp/out.mkv ] && exit 1; exit 0`,
	}
	if res := probe.Evaluate(context.Background(), runner, task, newEnv(), ""); res.Decision != probe.Skip {
		t.Fatalf("expected bindings to be visible, got %s", res.Decision)
	}
}

func TestEvaluateTimeoutIsProbeError(t *testing.T) {
	runner := script.NewShellRunner("sh", 100*time.Millisecond)
	task := catalog.Task{ID: "slow", Probe: "sleep 5", Timeout: 100 * time.Millisecond}
	res := probe.Evaluate(context.Background(), runner, task, newEnv(), "")
	if res.Decision != probe.Error {
		t.Fatalf("expected Error, got %s", res.Decision)
	}
	if !errors.Is(res.Err, services.ErrTimeout) || errors.Is(res.Err, services.ErrConfiguration) {
		t.Fatalf("expected timeout classification, got %v", res.Err)
	}
}

func TestEvaluateCodecProbe(t *testing.T) {
	runner := script.NewShellRunner("sh", time.Second)
	inspector := func(codec string, err error) ffprobe.Inspector {
		return func(context.Context, string, string) (ffprobe.Result, error) {
			if err != nil {
				return ffprobe.Result{}, err
			}
			return ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "video", CodecName: codec}}}, nil
		}
	}
	task := catalog.Task{ID: "h265_encoder", SkipCodecs: []string{"hevc"}, Command: "true"}

	hevc := probe.NewEvaluator(runner, probe.WithInspector(inspector("hevc", nil)))
	if res := hevc.Evaluate(context.Background(), task, newEnv(), ""); res.Decision != probe.Skip {
		t.Fatalf("hevc input: got %s", res.Decision)
	}

	h264 := probe.NewEvaluator(runner, probe.WithInspector(inspector("h264", nil)))
	if res := h264.Evaluate(context.Background(), task, newEnv(), ""); res.Decision != probe.Required {
		t.Fatalf("h264 input: got %s", res.Decision)
	}

	withScript := task
	withScript.Probe = "exit 1"
	if res := h264.Evaluate(context.Background(), withScript, newEnv(), ""); res.Decision != probe.Skip {
		t.Fatalf("script probe should still run after codec probe passes, got %s", res.Decision)
	}

	broken := probe.NewEvaluator(runner, probe.WithInspector(inspector("", errors.New("invalid data"))))
	res := broken.Evaluate(context.Background(), task, newEnv(), "")
	if res.Decision != probe.Error || !errors.Is(res.Err, services.ErrExternalTool) {
		t.Fatalf("ffprobe failure: got %s %v", res.Decision, res.Err)
	}
}

func TestEvaluateCancelledIsInterrupted(t *testing.T) {
	runner := script.NewShellRunner("sh", 100*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	res := probe.Evaluate(ctx, runner, catalog.Task{ID: "t", Probe: "sleep 5"}, newEnv(), "")
	if res.Decision != probe.Error || !errors.Is(res.Err, services.ErrInterrupted) {
		t.Fatalf("expected interrupted error, got %s %v", res.Decision, res.Err)
	}
}

func TestEvaluateRunsProbeInWorkspace(t *testing.T) {
	runner := script.NewShellRunner("sh", time.Second)
	dir := t.TempDir()
	task := catalog.Task{ID: "t", Probe: "touch probed && exit 1"}
	if res := probe.Evaluate(context.Background(), runner, task, newEnv(), dir); res.Decision != probe.Skip {
		t.Fatalf("expected skip, got %s %v", res.Decision, res.Err)
	}
	if _, err := os.Stat(filepath.Join(dir, "probed")); err != nil {
		t.Fatalf("expected probe to run in the workspace directory: %v", err)
	}
}
