package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSlashPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Empty", input: "", expected: ""},
		{name: "Dot", input: ".", expected: ""},
		{name: "Trim", input: "  ./obj/Debug  ", expected: "obj/Debug"},
		{name: "Relative", input: "bin/../obj", expected: "obj"},
		{name: "Backslashes", input: `C:\refs\Lib.dll`, expected: "C:/refs/Lib.dll"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := SlashPath(tc.input); got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestWithinDir(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		path     string
		dir      string
		expected bool
	}{
		{name: "Exact", path: "/refs/lib", dir: "/refs/lib", expected: true},
		{name: "Nested", path: "/refs/lib/Lib.dll", dir: "/refs/lib", expected: true},
		{name: "Neighbor", path: "/refs/library/Lib.dll", dir: "/refs/lib", expected: false},
		{name: "Shorter", path: "/refs", dir: "/refs/lib", expected: false},
		{name: "MixedSeparators", path: `refs\lib\Lib.dll`, dir: "refs/lib", expected: true},
		{name: "FilesystemRoot", path: "/refs/Lib.dll", dir: "/", expected: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := WithinDir(tc.path, tc.dir); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestIsBareFileName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value    string
		expected bool
	}{
		{value: "Lib.dll", expected: true},
		{value: "refs/Lib.dll", expected: false},
		{value: `refs\Lib.dll`, expected: false},
		{value: "", expected: false},
	}
	for _, tc := range cases {
		if got := IsBareFileName(tc.value); got != tc.expected {
			t.Fatalf("%q: expected %v, got %v", tc.value, tc.expected, got)
		}
	}
}

func TestSortedKeys(t *testing.T) {
	t.Parallel()

	keys := SortedKeys(map[string]int{"System.IO": 2, "": 1, "System": 3})
	expected := []string{"", "System", "System.IO"}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %d", len(expected), len(keys))
	}
	for i, key := range expected {
		if keys[i] != key {
			t.Fatalf("expected %q at %d, got %q", key, i, keys[i])
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.html")

	for _, content := range []string{"first", "second"} {
		if err := WriteFileAtomic(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if string(got) != content {
			t.Fatalf("expected %q, got %q", content, string(got))
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, got %d entries", len(entries))
	}
}

func TestReadMemoryStats(t *testing.T) {
	t.Parallel()

	if stats := ReadMemoryStats(); stats.Goroutines < 1 {
		t.Fatalf("expected at least one goroutine, got %d", stats.Goroutines)
	}
}
