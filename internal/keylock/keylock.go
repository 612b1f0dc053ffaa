// Package keylock serializes work per (library, file) key, both between the
// workers of one process and between concurrent omzet processes.
//
// Acquisition never waits: a key already held reports busy and the caller
// moves on. Cross-process exclusion uses one flock file per key under the
// state directory. Lock files are left in place after release; deleting them
// would let a late opener lock an unlinked inode.
package keylock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Locker hands out per-key locks.
type Locker struct {
	dir  string
	mu   sync.Mutex
	held map[string]struct{}
}

// New creates a Locker storing lock files in dir.
func New(dir string) (*Locker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &Locker{dir: dir, held: make(map[string]struct{})}, nil
}

// Path returns the lock file used for key.
func (l *Locker) Path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:12])+".lock")
}

// TryAcquire takes the lock for key without blocking. ok is false when the
// key is held by this or another process. release must be called exactly
// once when ok is true.
func (l *Locker) TryAcquire(key string) (release func(), ok bool, err error) {
	l.mu.Lock()
	if _, busy := l.held[key]; busy {
		l.mu.Unlock()
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	drop := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}

	fileLock := flock.New(l.Path(key))
	locked, err := fileLock.TryLock()
	if err != nil {
		drop()
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !locked {
		drop()
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = fileLock.Unlock()
			drop()
		})
	}, true, nil
}
