package persist

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAccumulates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aesdsocketdata")
	m, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := m.Append([]byte("hello\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Append([]byte("world\n")); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "hello\nworld\n" {
		t.Fatalf("contents = %q, want %q", got, "hello\nworld\n")
	}
}

func TestRemoveDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aesdsocketdata")
	m, _ := Open(path)
	m.Append([]byte("x\n"))

	if err := m.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err = %v", err)
	}
}

func TestRemoveMissingFileIsNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-created")
	m, _ := Open(path)
	if err := m.Remove(); err != nil {
		t.Fatalf("remove missing file: %v", err)
	}
}
