package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"omzet/internal/scratch"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckScratchpad verifies that workspaces can be allocated under dir and
// that at least minFree bytes are available there. Zero disables the space check.
func CheckScratchpad(name, dir string, minFree uint64) Result {
	target := dir
	pending := false
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		parent, ok := existingParent(dir)
		if !ok {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: no existing parent directory)", dir)}
		}
		target = parent
		pending = true
	}

	access := CheckDirectoryAccess(name, target)
	if !access.Passed {
		if pending {
			access.Detail = fmt.Sprintf("%s (error: cannot be created under %s)", dir, target)
		}
		return access
	}

	free, err := scratch.FreeBytes(dir)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", dir, err)}
	}
	if minFree > 0 && free < minFree {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s free, below %s)", dir, humanize.IBytes(free), humanize.IBytes(minFree))}
	}
	detail := fmt.Sprintf("%s (%s free)", dir, humanize.IBytes(free))
	if pending {
		detail = fmt.Sprintf("%s (created on first use, %s free)", dir, humanize.IBytes(free))
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

func existingParent(dir string) (string, bool) {
	probe := filepath.Clean(dir)
	for {
		parent := filepath.Dir(probe)
		if parent == probe {
			return "", false
		}
		probe = parent
		if info, err := os.Stat(probe); err == nil {
			return probe, info.IsDir()
		}
	}
}
