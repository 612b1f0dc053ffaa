package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"omzet/internal/fileutil"
	"omzet/internal/services"
)

const (
	// WorkspacePrefix starts every workspace directory name.
	WorkspacePrefix = "omzet-"
	// TempPrefix and TempSuffix bracket in-flight promotion files.
	TempPrefix = ".omzet-"
	TempSuffix = ".tmp"
)

// StageError reports a scratch allocation, staging, promotion, or cleanup failure.
type StageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("scratch %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool { return target == services.ErrStageIO }

// Workspace is a job-owned directory of staged artifacts.
type Workspace struct {
	Root  string
	JobID string

	mu        sync.Mutex
	discarded bool
}

// Allocate creates <scratchpadDir>/omzet-<jobID>, creating the scratchpad if absent.
func Allocate(scratchpadDir, jobID string) (*Workspace, error) {
	scratchpadDir = strings.TrimSpace(scratchpadDir)
	if scratchpadDir == "" {
		return nil, &StageError{Op: "allocate", Path: scratchpadDir, Err: errors.New("scratchpad directory not configured")}
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, &StageError{Op: "allocate", Path: scratchpadDir, Err: errors.New("empty job id")}
	}
	if err := os.MkdirAll(scratchpadDir, 0o755); err != nil {
		return nil, &StageError{Op: "allocate", Path: scratchpadDir, Err: err}
	}
	root := filepath.Join(scratchpadDir, WorkspacePrefix+jobID)
	if err := os.Mkdir(root, 0o755); err != nil {
		return nil, &StageError{Op: "allocate", Path: root, Err: err}
	}
	return &Workspace{Root: root, JobID: jobID}, nil
}

// StageInput copies source into the workspace as 00-source.<ext> and returns
// the staged path. Scripts only ever read this copy.
func (w *Workspace) StageInput(source string) (string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", &StageError{Op: "stage input", Path: source, Err: err}
	}
	if !info.Mode().IsRegular() {
		return "", &StageError{Op: "stage input", Path: source, Err: errors.New("not a regular file")}
	}
	staged := filepath.Join(w.Root, "00-source"+extOf(source))
	if err := fileutil.CopyFileMode(source, staged, 0o444); err != nil {
		_ = os.Remove(staged)
		return "", &StageError{Op: "stage input", Path: source, Err: err}
	}
	return staged, nil
}

// StageOutput returns the path the task at index must write, NN-<task>.<ext>
// with NN counting from 01. The path does not exist yet.
func (w *Workspace) StageOutput(index int, taskID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	name := fmt.Sprintf("%02d-%s", index+1, sanitize(taskID))
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(w.Root, name)
}

// Discard removes the workspace. Safe to call more than once.
func (w *Workspace) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.discarded {
		return nil
	}
	if err := os.RemoveAll(w.Root); err != nil {
		return &StageError{Op: "discard", Path: w.Root, Err: err}
	}
	w.discarded = true
	return nil
}

func extOf(path string) string {
	return filepath.Ext(filepath.Base(path))
}

func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "task"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, id)
}
