package keylock_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gofrs/flock"

	"omzet/internal/keylock"
)

func TestTryAcquireExcludesSameProcess(t *testing.T) {
	locker, err := keylock.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	release, ok, err := locker.TryAcquire("movies:/m/a.mkv")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := locker.TryAcquire("movies:/m/a.mkv"); ok {
		t.Fatal("second acquire of a held key must fail")
	}
	other, ok, _ := locker.TryAcquire("movies:/m/b.mkv")
	if !ok {
		t.Fatal("distinct key should be available")
	}
	other()

	release()
	release()
	again, ok, _ := locker.TryAcquire("movies:/m/a.mkv")
	if !ok {
		t.Fatal("key should be free after release")
	}
	again()
}

func TestTryAcquireHonoursForeignFileLock(t *testing.T) {
	dir := t.TempDir()
	locker, _ := keylock.New(dir)
	key := "movies:/m/c.mkv"

	foreign := flock.New(locker.Path(key))
	if ok, err := foreign.TryLock(); err != nil || !ok {
		t.Fatalf("foreign lock: %v %v", ok, err)
	}
	if _, ok, err := locker.TryAcquire(key); ok || err != nil {
		t.Fatalf("expected busy while another holder owns the file lock, ok=%v err=%v", ok, err)
	}
	_ = foreign.Unlock()

	release, ok, _ := locker.TryAcquire(key)
	if !ok {
		t.Fatal("expected lock after foreign release")
	}
	release()
}

func TestTryAcquireConcurrent(t *testing.T) {
	locker, _ := keylock.New(t.TempDir())
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	releases := make(chan func(), 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if release, ok, _ := locker.TryAcquire("same"); ok {
				winners.Add(1)
				releases <- release
			}
		}()
	}
	close(start)
	wg.Wait()
	close(releases)
	for release := range releases {
		release()
	}
	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
}
