package ledger_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"omzet/internal/config"
	"omzet/internal/ledger"
	"omzet/internal/testsupport"
)

func TestCompleteRequiresMatchingFingerprint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()
	key := ledger.Key{Library: "movies", Path: "/media/movies/a.mkv"}

	done, err := store.IsComplete(ctx, key, "10:1")
	if err != nil || done {
		t.Fatalf("unknown file reported complete=%v err=%v", done, err)
	}

	if err := store.MarkRunning(ctx, key, "job-1", "movies"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if done, _ := store.IsComplete(ctx, key, ""); done {
		t.Fatal("running entry must not be complete")
	}
	if err := store.MarkComplete(ctx, key, "10:1"); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	if done, _ := store.IsComplete(ctx, key, "10:1"); !done {
		t.Fatal("expected complete for matching fingerprint")
	}
	if done, _ := store.IsComplete(ctx, key, "11:2"); done {
		t.Fatal("changed fingerprint must not be complete")
	}
	if done, _ := store.IsComplete(ctx, ledger.Key{Library: "shows", Path: key.Path}, "10:1"); done {
		t.Fatal("entries are scoped per library")
	}

	entry, err := store.Get(ctx, key)
	if err != nil || entry == nil {
		t.Fatalf("Get: %v %v", entry, err)
	}
	if entry.Status != ledger.StatusComplete || entry.Workflow != "movies" || entry.JobID != "job-1" || entry.CompletedAt.IsZero() {
		t.Fatalf("unexpected entry %#v", entry)
	}
}

func TestMarkFailedClearsCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()
	key := ledger.Key{Library: "movies", Path: "/m/b.mkv"}

	_ = store.MarkComplete(ctx, key, "fp")
	if err := store.MarkRunning(ctx, key, "job-2", "movies"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFailed(ctx, key, "task encode exited 2"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if done, _ := store.IsComplete(ctx, key, "fp"); done {
		t.Fatal("failed entry must not be complete")
	}
	entry, _ := store.Get(ctx, key)
	if entry.Status != ledger.StatusFailed || entry.Error != "task encode exited 2" {
		t.Fatalf("unexpected entry %#v", entry)
	}
}

func TestMarkProgressTracksLastTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()
	key := ledger.Key{Library: "movies", Path: "/m/c.mkv"}

	if err := store.MarkRunning(ctx, key, "job-3", "movies"); err != nil {
		t.Fatal(err)
	}
	records := []ledger.TaskRecord{
		{JobID: "job-3", TaskID: "encode", Index: 0, Outcome: ledger.TaskRan, ExitCode: 0, Duration: 1500 * time.Millisecond},
		{JobID: "job-3", TaskID: "skipme", Index: 1, Outcome: ledger.TaskSkipped, ExitCode: 1},
		{JobID: "job-3", TaskID: "tag", Index: 2, Outcome: ledger.TaskFailed, ExitCode: 4, Message: "boom"},
	}
	for _, rec := range records {
		if err := store.MarkProgress(ctx, key, rec); err != nil {
			t.Fatalf("MarkProgress %s: %v", rec.TaskID, err)
		}
	}

	entry, _ := store.Get(ctx, key)
	if entry.LastTaskIndex != 1 {
		t.Fatalf("last task index = %d, want 1", entry.LastTaskIndex)
	}

	history, err := store.Tasks(ctx, key)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(history) != 3 || history[2].Message != "boom" || history[0].Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected history %#v", history)
	}

	// a stale job must not move another job's progress
	if err := store.MarkRunning(ctx, key, "job-4", "movies"); err != nil {
		t.Fatal(err)
	}
	_ = store.MarkProgress(ctx, key, ledger.TaskRecord{JobID: "job-3", TaskID: "late", Index: 5, Outcome: ledger.TaskRan})
	entry, _ = store.Get(ctx, key)
	if entry.LastTaskIndex != -1 {
		t.Fatalf("stale job advanced progress to %d", entry.LastTaskIndex)
	}
}

func TestMaintenanceOperations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	keys := make([]ledger.Key, 4)
	for i := range keys {
		keys[i] = ledger.Key{Library: "movies", Path: fmt.Sprintf("/m/%d.mkv", i)}
	}
	_ = store.MarkComplete(ctx, keys[0], "fp0")
	_ = store.MarkFailed(ctx, keys[1], "bad")
	_ = store.MarkRunning(ctx, keys[2], "j2", "movies")
	_ = store.MarkRunning(ctx, keys[3], "j3", "movies")

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[ledger.StatusRunning] != 2 || stats.Total() != 4 {
		t.Fatalf("unexpected stats %#v", stats)
	}

	reset, err := store.ResetRunning(ctx)
	if err != nil || reset != 2 {
		t.Fatalf("ResetRunning = %d, %v", reset, err)
	}
	entry, _ := store.Get(ctx, keys[2])
	if entry.Status != ledger.StatusFailed || entry.Error != ledger.InterruptedReason {
		t.Fatalf("unexpected reset entry %#v", entry)
	}

	failed, err := store.List(ctx, ledger.Filter{Statuses: []ledger.Status{ledger.StatusFailed}})
	if err != nil || len(failed) != 3 {
		t.Fatalf("List failed = %d, %v", len(failed), err)
	}

	removed, err := store.Forget(ctx, keys[0])
	if err != nil || !removed {
		t.Fatalf("Forget = %v, %v", removed, err)
	}
	if removed, _ := store.Forget(ctx, keys[0]); removed {
		t.Fatal("second Forget should report nothing removed")
	}

	n, err := store.ClearFailed(ctx)
	if err != nil || n != 3 {
		t.Fatalf("ClearFailed = %d, %v", n, err)
	}
	_ = store.MarkComplete(ctx, keys[0], "fp0")
	if n, _ := store.Clear(ctx); n != 1 {
		t.Fatalf("Clear removed %d", n)
	}
}

func TestConcurrentWritersSerialize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenLedger(t, cfg)
	second := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		for _, store := range []*ledger.Store{first, second} {
			wg.Add(1)
			go func(store *ledger.Store, i int) {
				defer wg.Done()
				key := ledger.Key{Library: "movies", Path: fmt.Sprintf("/m/%d.mkv", i%5)}
				if err := store.MarkRunning(ctx, key, fmt.Sprintf("job-%d", i), "movies"); err != nil {
					errs <- err
					return
				}
				errs <- store.MarkComplete(ctx, key, "fp")
			}(store, i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write failed: %v", err)
		}
	}
	stats, _ := first.Stats(ctx)
	if stats.Total() != 5 {
		t.Fatalf("expected 5 entries, got %d", stats.Total())
	}
}

func TestFingerprintModes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mkv")
	testsupport.WriteText(t, path, "one")

	mtime1, err := ledger.Fingerprint(path, config.FingerprintMTime)
	if err != nil {
		t.Fatal(err)
	}
	sha1, err := ledger.Fingerprint(path, config.FingerprintSHA256)
	if err != nil {
		t.Fatal(err)
	}

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	mtime2, _ := ledger.Fingerprint(path, config.FingerprintMTime)
	sha2, _ := ledger.Fingerprint(path, config.FingerprintSHA256)
	if mtime1 == mtime2 {
		t.Fatal("mtime fingerprint should change with modification time")
	}
	if sha1 != sha2 {
		t.Fatal("content fingerprint should ignore modification time")
	}
	if _, err := ledger.Fingerprint(path, "crc"); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestReopenExistingLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	if _, err := store.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("reopen existing ledger: %v", err)
	}
	reopened.Close()
}
