package safeio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileFromDirRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"../x", "..", ".", ""} {
		if _, err := ReadFileFromDir(dir, name); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestReadFileByPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receipt")
	if err := os.WriteFile(path, []byte("hi"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := ReadFileByPath(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "hi" {
		t.Fatalf("unexpected bytes: %q", string(b))
	}
	if _, err := ReadFileByPath(filepath.Join(dir, "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing file: err=%v, want fs.ErrNotExist", err)
	}
}
