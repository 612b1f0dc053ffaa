package scratch

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"omzet/internal/fileutil"
)

// Promote moves staged onto destination atomically. The artifact is first
// placed beside the destination under a hidden temporary name (renamed when
// on the same filesystem, copied and verified otherwise), fsynced, and then
// renamed over the destination. An existing destination keeps its
// permissions and is never truncated.
func Promote(staged, destination string) error {
	info, err := os.Lstat(staged)
	if err != nil {
		return &StageError{Op: "promote", Path: staged, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &StageError{Op: "promote", Path: staged, Err: errors.New("staged artifact is not a regular file")}
	}

	dir := filepath.Dir(destination)
	tmp := filepath.Join(dir, TempPrefix+uuid.NewString()+TempSuffix)

	if err := os.Rename(staged, tmp); err != nil {
		if !errors.Is(err, unix.EXDEV) {
			return &StageError{Op: "promote", Path: tmp, Err: err}
		}
		if err := fileutil.CopyFileVerified(staged, tmp); err != nil {
			_ = os.Remove(tmp)
			return &StageError{Op: "promote", Path: tmp, Err: err}
		}
	}

	mode := os.FileMode(0o644)
	if existing, err := os.Stat(destination); err == nil {
		mode = existing.Mode().Perm()
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return &StageError{Op: "promote", Path: tmp, Err: err}
	}
	if err := fileutil.SyncFile(tmp); err != nil {
		_ = os.Remove(tmp)
		return &StageError{Op: "promote", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, destination); err != nil {
		_ = os.Remove(tmp)
		return &StageError{Op: "promote", Path: destination, Err: err}
	}
	if err := fileutil.SyncDir(dir); err != nil {
		return &StageError{Op: "promote", Path: dir, Err: err}
	}
	return nil
}
