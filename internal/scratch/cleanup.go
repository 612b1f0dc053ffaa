package scratch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"omzet/internal/logging"
)

// CleanResult contains the outcome of an orphan cleanup pass.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanOrphans removes omzet-* workspaces under scratchpadDir that are not
// owned by an active job and are older than maxAge. A maxAge of zero removes
// every inactive workspace regardless of age. Directories not created by
// omzet are never touched.
func CleanOrphans(ctx context.Context, scratchpadDir string, maxAge time.Duration, active map[string]struct{}, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, err := listOwned(scratchpadDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: scratchpadDir, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if _, ok := active[entry.JobID]; ok {
			continue
		}
		if maxAge > 0 && !entry.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(entry.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: entry.Path, Error: err})
			logging.WarnWithContext(logger, "failed to remove orphaned workspace", "scratch_cleanup_failed",
				logging.String("path", entry.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check scratchpad_directory permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, entry.Path)
		logger.Info("removed orphaned workspace",
			logging.String("path", entry.Path),
			logging.Duration("age", time.Since(entry.ModTime).Round(time.Second)),
			logging.EventType("scratch_cleanup"),
		)
	}
	return result
}

// DirInfo contains metadata about a workspace directory.
type DirInfo struct {
	Name    string
	Path    string
	JobID   string
	ModTime time.Time
	Size    int64
}

// ListWorkspaces returns the omzet workspaces under scratchpadDir with their sizes.
func ListWorkspaces(scratchpadDir string) ([]DirInfo, error) {
	entries, err := listOwned(scratchpadDir)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Size = dirSize(entries[i].Path)
	}
	return entries, nil
}

// FreeBytes reports the space available to unprivileged users on the
// filesystem holding dir. The nearest existing ancestor is used when dir has
// not been created yet.
func FreeBytes(dir string) (uint64, error) {
	probe := filepath.Clean(dir)
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}
	var st unix.Statfs_t
	if err := unix.Statfs(probe, &st); err != nil {
		return 0, &StageError{Op: "statfs", Path: probe, Err: err}
	}
	return st.Bavail * uint64(st.Bsize), nil
}

func listOwned(scratchpadDir string) ([]DirInfo, error) {
	scratchpadDir = strings.TrimSpace(scratchpadDir)
	if scratchpadDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(scratchpadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), WorkspacePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(scratchpadDir, entry.Name()),
			JobID:   strings.TrimPrefix(entry.Name(), WorkspacePrefix),
			ModTime: info.ModTime(),
		})
	}
	return dirs, nil
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}

// IsTempName reports whether name is an in-flight promotion file.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, TempPrefix) && strings.HasSuffix(name, TempSuffix)
}

// CleanStaleTemps removes promotion temp files under root older than maxAge.
// They are only left behind when the process dies between the copy and the
// final rename.
func CleanStaleTemps(ctx context.Context, root string, maxAge time.Duration, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	if logger == nil {
		logger = logging.NewNop()
	}
	cutoff := time.Now().Add(-maxAge)
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if d.IsDir() || !IsTempName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			return nil
		}
		result.Removed = append(result.Removed, path)
		logger.Info("removed stale promotion file",
			logging.String("path", path),
			logging.EventType("scratch_cleanup"),
		)
		return nil
	})
	return result
}
