package daemon_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"omzet/internal/config"
	"omzet/internal/daemon"
	"omzet/internal/engine"
	"omzet/internal/testsupport"
)

type countingEngine struct {
	calls atomic.Int32
	err   error
}

func (c *countingEngine) RunAll(ctx context.Context) (engine.Report, error) {
	c.calls.Add(1)
	return engine.Report{Completed: 1}, c.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Engine.ScanInterval = 1
	return cfg
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testConfig(t)
	eng := &countingEngine{}
	d, err := daemon.New(cfg, eng, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Status().Running {
		t.Fatal("expected daemon to report running")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for eng.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if eng.calls.Load() == 0 {
		t.Fatal("expected an immediate first run")
	}

	d.Stop()
	status := d.Status()
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if status.Runs < 1 || status.LastReport == nil || status.LastReport.Completed != 1 {
		t.Fatalf("unexpected status after run: %+v", status)
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testConfig(t)
	first, err := daemon.New(cfg, &countingEngine{}, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	second, err := daemon.New(cfg, &countingEngine{}, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to be refused")
	}
}

func TestDaemonRepeatsOnInterval(t *testing.T) {
	cfg := testConfig(t)
	eng := &countingEngine{err: errors.New("ledger unavailable")}
	d, err := daemon.New(cfg, eng, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	d.Stop()

	if got := eng.calls.Load(); got < 2 {
		t.Fatalf("expected at least two runs, got %d", got)
	}
	if d.Status().LastError == nil {
		t.Fatal("expected last error to be retained")
	}
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.ScanInterval = 0
	if _, err := daemon.New(cfg, &countingEngine{}, nil); err == nil {
		t.Fatal("expected interval validation error")
	}
}
