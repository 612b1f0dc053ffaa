// Package scanner enumerates the files of a library that its workflow accepts.
//
// Walk policy:
//   - extensions match case-insensitively using Unicode case folding;
//   - entries whose name starts with "." are skipped, which also covers the
//     ".omzet-*.tmp" promotion files;
//   - directory symlinks are followed, and each real directory (device,
//     inode) is visited at most once, so link cycles terminate;
//   - file symlinks are skipped because promotion would replace the link
//     with a regular file;
//   - the workflow's scratchpad is never descended into, even when it lives
//     inside the library root;
//   - entries are yielded in lexical order within each directory.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/text/cases"

	"omzet/internal/catalog"
	"omzet/internal/logging"
)

// Candidate is one file eligible for the library's workflow.
type Candidate struct {
	Library  string
	Path     string
	Workflow *catalog.Workflow
	Size     int64
	ModTime  time.Time
}

type dirID struct {
	dev uint64
	ino uint64
}

// Scanner walks library roots.
type Scanner struct {
	logger *slog.Logger
}

// New returns a Scanner. A nil logger discards diagnostics.
func New(logger *slog.Logger) *Scanner {
	return &Scanner{logger: logging.NewComponentLogger(logger, "scanner")}
}

// Scan is a convenience wrapper around a Scanner without logging.
func Scan(ctx context.Context, lib catalog.Library) iter.Seq2[Candidate, error] {
	return New(nil).Scan(ctx, lib)
}

// Scan lazily yields the library's eligible files. The walk stops when the
// consumer stops iterating or ctx is cancelled. Unreadable subdirectories are
// reported as errors without ending the walk; an unreadable root ends it.
// Each call starts a fresh walk.
func (s *Scanner) Scan(ctx context.Context, lib catalog.Library) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		if lib.Workflow == nil {
			yield(Candidate{}, fmt.Errorf("library %q has no workflow", lib.Name))
			return
		}
		w := &walker{
			ctx:     ctx,
			lib:     lib,
			logger:  s.logger.With(logging.String(logging.FieldLibrary, lib.Name)),
			visited: make(map[dirID]struct{}),
			exts:    make(map[string]struct{}, len(lib.Workflow.Extensions)),
			fold:    cases.Fold(),
			yield:   yield,
		}
		for _, ext := range lib.Workflow.Extensions {
			w.exts[w.fold.String(strings.TrimPrefix(ext, "."))] = struct{}{}
		}
		if dir := lib.Workflow.ScratchpadDir; dir != "" {
			w.scratchPath = filepath.Clean(dir)
			w.resolveScratch()
		}

		root := lib.Directory
		id, err := identity(root)
		if err != nil {
			yield(Candidate{}, fmt.Errorf("scan library %q: %w", lib.Name, err))
			return
		}
		w.walk(root, id)
	}
}

type walker struct {
	ctx     context.Context
	lib     catalog.Library
	logger  *slog.Logger
	visited map[dirID]struct{}
	exts    map[string]struct{}
	fold    cases.Caser
	scratch *dirID
	// scratchPath is matched by name as well, so a scratchpad created after
	// the walk started is still excluded.
	scratchPath string
	yield       func(Candidate, error) bool
}

func (w *walker) resolveScratch() {
	if w.scratch != nil || w.scratchPath == "" {
		return
	}
	if id, err := identity(w.scratchPath); err == nil {
		w.scratch = &id
	}
}

func (w *walker) isScratch(path string, id dirID) bool {
	if w.scratchPath == "" {
		return false
	}
	if filepath.Clean(path) == w.scratchPath {
		return true
	}
	w.resolveScratch()
	return w.scratch != nil && id == *w.scratch
}

// walk returns false once the consumer has stopped.
func (w *walker) walk(dir string, id dirID) bool {
	if _, seen := w.visited[id]; seen {
		w.logger.Debug("directory already visited", logging.String("path", dir))
		return true
	}
	w.visited[id] = struct{}{}

	if err := w.ctx.Err(); err != nil {
		w.yield(Candidate{}, err)
		return false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return w.yield(Candidate{}, fmt.Errorf("read %s: %w", dir, err))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)

		mode := entry.Type()
		if mode&fs.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil {
				w.logger.Debug("skipping dangling symlink", logging.String("path", path), logging.Error(err))
				continue
			}
			if !target.IsDir() {
				w.logger.Debug("skipping file symlink", logging.String("path", path))
				continue
			}
			mode = fs.ModeDir
		}

		switch {
		case mode.IsDir():
			childID, err := identity(path)
			if err != nil {
				if !w.yield(Candidate{}, fmt.Errorf("stat %s: %w", path, err)) {
					return false
				}
				continue
			}
			if w.isScratch(path, childID) {
				continue
			}
			if !w.walk(path, childID) {
				return false
			}
		case mode.IsRegular():
			if !w.accepts(name) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				if !w.yield(Candidate{}, fmt.Errorf("stat %s: %w", path, err)) {
					return false
				}
				continue
			}
			candidate := Candidate{
				Library:  w.lib.Name,
				Path:     path,
				Workflow: w.lib.Workflow,
				Size:     info.Size(),
				ModTime:  info.ModTime(),
			}
			if !w.yield(candidate, nil) {
				return false
			}
		}
	}
	return true
}

func (w *walker) accepts(name string) bool {
	ext := filepath.Ext(name)
	if len(ext) < 2 {
		return false
	}
	_, ok := w.exts[w.fold.String(ext[1:])]
	return ok
}

// identity follows symlinks.
func identity(path string) (dirID, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return dirID{}, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return dirID{dev: uint64(st.Dev), ino: st.Ino}, nil
}
