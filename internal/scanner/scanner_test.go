package scanner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"omzet/internal/catalog"
	"omzet/internal/scanner"
	"omzet/internal/testsupport"
)

func newLibrary(root string, exts ...string) catalog.Library {
	return catalog.Library{
		Name:      "movies",
		Directory: root,
		Workflow: &catalog.Workflow{
			Name:          "movies",
			ScratchpadDir: filepath.Join(root, "scratch"),
			Extensions:    exts,
		},
	}
}

func collect(t *testing.T, lib catalog.Library) []string {
	t.Helper()
	var paths []string
	for cand, err := range scanner.Scan(context.Background(), lib) {
		if err != nil {
			t.Fatalf("scan error: %v", err)
		}
		rel, _ := filepath.Rel(lib.Directory, cand.Path)
		paths = append(paths, rel)
	}
	return paths
}

func TestScanFiltersAndOrders(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{
		"b.mkv", "a.MKV", "c.Mp4", "notes.txt", "noext",
		"sub/d.mkv", ".hidden.mkv", ".cache/e.mkv", "sub/.omzet-123.tmp",
		"scratch/omzet-job/00-source.mkv",
	} {
		testsupport.WriteText(t, filepath.Join(root, rel), "x")
	}

	got := collect(t, newLibrary(root, "mkv", "mp4"))
	want := []string{"a.MKV", "b.mkv", "c.Mp4", "sub/d.mkv"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestScanUnicodeCaseFolding(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteText(t, filepath.Join(root, "clip.ÉPISODE"), "x")
	got := collect(t, newLibrary(root, "épisode"))
	if len(got) != 1 {
		t.Fatalf("expected folded extension match, got %v", got)
	}
}

func TestScanSymlinkCycleTerminates(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteText(t, filepath.Join(root, "a", "one.mkv"), "x")
	if err := os.Symlink(root, filepath.Join(root, "a", "loop")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	outside := t.TempDir()
	testsupport.WriteText(t, filepath.Join(outside, "two.mkv"), "x")
	if err := os.Symlink(outside, filepath.Join(root, "linked")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "a", "one.mkv"), filepath.Join(root, "alias.mkv")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "dangling")); err != nil {
		t.Fatal(err)
	}

	got := collect(t, newLibrary(root, "mkv"))
	if len(got) != 2 || got[0] != "a/one.mkv" || got[1] != "linked/two.mkv" {
		t.Fatalf("unexpected walk result %v", got)
	}
}

func TestScanIsLazyAndRestartable(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"1.mkv", "2.mkv", "3.mkv"} {
		testsupport.WriteText(t, filepath.Join(root, name), "x")
	}
	lib := newLibrary(root, "mkv")
	seq := scanner.Scan(context.Background(), lib)

	count := 0
	for range seq {
		count++
		if count == 1 {
			break
		}
	}
	if count != 1 {
		t.Fatalf("expected early stop, got %d", count)
	}

	total := 0
	for _, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		total++
	}
	if total != 3 {
		t.Fatalf("second iteration yielded %d, want 3", total)
	}
}

func TestScanMissingRoot(t *testing.T) {
	lib := newLibrary(filepath.Join(t.TempDir(), "absent"), "mkv")
	var errs int
	for _, err := range scanner.Scan(context.Background(), lib) {
		if err != nil {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("expected a single root error, got %d", errs)
	}
}

func TestScanStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteText(t, filepath.Join(root, "a.mkv"), "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for cand, err := range scanner.Scan(ctx, newLibrary(root, "mkv")) {
		if err == nil {
			t.Fatalf("unexpected candidate after cancel: %v", cand.Path)
		}
	}
}

func TestScanSkipsScratchpadCreatedDuringWalk(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteText(t, filepath.Join(root, "a.mkv"), "x")
	testsupport.WriteText(t, filepath.Join(root, "z", "zz.mkv"), "x")
	lib := newLibrary(root, "mkv")
	lib.Workflow.ScratchpadDir = filepath.Join(root, "z", "scratch")

	var got []string
	for cand, err := range scanner.Scan(context.Background(), lib) {
		if err != nil {
			t.Fatalf("scan error: %v", err)
		}
		rel, _ := filepath.Rel(root, cand.Path)
		got = append(got, rel)
		if rel == "a.mkv" {
			testsupport.WriteText(t, filepath.Join(lib.Workflow.ScratchpadDir, "omzet-job", "00-source.mkv"), "x")
		}
	}
	if len(got) != 2 || got[0] != "a.mkv" || got[1] != filepath.Join("z", "zz.mkv") {
		t.Fatalf("got %v, want [a.mkv z/zz.mkv]", got)
	}
}
