package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewWatcher_RejectsNilCallback(t *testing.T) {
	w, err := NewWatcher(100*time.Millisecond, nil, nil)
	if err == nil {
		t.Fatal("expected error for nil callback")
	}
	if !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("expected os.ErrInvalid, got %v", err)
	}
	if w != nil {
		t.Fatal("expected nil watcher when callback is invalid")
	}
}

func waitFor(t *testing.T, changed <-chan []string, want string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case paths := <-changed:
			for _, p := range paths {
				if p == want {
					return
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestWatcher(t *testing.T) {
	tmpDir := t.TempDir()

	changedFiles := make(chan []string, 8)
	exclude := func(path string) bool { return strings.Contains(filepath.ToSlash(path), "/obj") }
	w, err := NewWatcher(100*time.Millisecond, exclude, func(paths []string) {
		changedFiles <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch([]Root{{Path: tmpDir, Recursive: true}}); err != nil {
		t.Fatal(err)
	}

	lib := filepath.Join(tmpDir, "Lib.dll")
	if err := os.WriteFile(lib, []byte("MZ"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, lib)

	// Non-assembly files and excluded paths stay quiet.
	if err := os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case paths := <-changedFiles:
		t.Fatalf("unexpected change batch %v", paths)
	case <-time.After(400 * time.Millisecond):
	}

	// New directories under a recursive root are followed.
	subdir := filepath.Join(tmpDir, "newdir")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(subdir, "Nested.dll")
	if err := os.WriteFile(nested, []byte("MZ"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, nested)

	if err := os.Remove(lib); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, lib)
}

func TestWatcher_RenameTriggersChange(t *testing.T) {
	tmpDir := t.TempDir()

	changedFiles := make(chan []string, 8)
	w, err := NewWatcher(100*time.Millisecond, nil, func(paths []string) {
		changedFiles <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch([]Root{{Path: tmpDir}}); err != nil {
		t.Fatal(err)
	}

	oldPath := filepath.Join(tmpDir, "Old.dll")
	newPath := filepath.Join(tmpDir, "New.dll")
	if err := os.WriteFile(oldPath, []byte("MZ"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, newPath)
}

func TestWatcher_Filters(t *testing.T) {
	w, err := NewWatcher(10*time.Millisecond, func(p string) bool { return filepath.Base(p) == "Skip.dll" }, func([]string) {})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if !w.shouldExcludeFile("readme.md") {
		t.Fatal("expected non-assembly files to be excluded")
	}
	if w.shouldExcludeFile("/libs/App.EXE") {
		t.Fatal("expected .exe to be watched regardless of case")
	}
	if !w.shouldExcludeFile("/libs/Skip.dll") {
		t.Fatal("expected exclude predicate to apply")
	}

	w.rootsMu.Lock()
	w.roots = []Root{{Path: "/libs", Recursive: true}, {Path: "/flat"}}
	w.rootsMu.Unlock()
	if !w.underRecursiveRoot("/libs/sub") || w.underRecursiveRoot("/flat/sub") {
		t.Fatal("unexpected recursive root membership")
	}
}
