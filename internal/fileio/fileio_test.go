package fileio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(t.TempDir())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestWriteReadList(t *testing.T) {
	svc := newService(t)
	if err := svc.Write("a.txt", "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	content, err := svc.Read("a.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "hello" {
		t.Errorf("content = %q, want hello", content)
	}
	entries, err := svc.List(".")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" || entries[0].IsDir {
		t.Errorf("entries = %+v", entries)
	}
	if entries[0].Size != int64(len("hello")) {
		t.Errorf("size = %d", entries[0].Size)
	}
}

func TestTraversalStaysConfined(t *testing.T) {
	svc := newService(t)
	if err := svc.Write("../escape.txt", "x"); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The leading ".." collapses against the root, so the file lands inside.
	if _, err := os.Stat(filepath.Join(svc.Root(), "escape.txt")); err != nil {
		t.Errorf("file should be confined to the workspace: %v", err)
	}
	parent := filepath.Dir(svc.Root())
	if _, err := os.Stat(filepath.Join(parent, "escape.txt")); err == nil {
		t.Error("file must not land outside the workspace root")
	}
}

func TestWriteMissingParent(t *testing.T) {
	svc := newService(t)
	err := svc.Write("sub/dir/file.txt", "x")
	if err == nil {
		t.Fatal("expected error for missing parent directory")
	}
	if !strings.Contains(err.Error(), "parent directory does not exist") {
		t.Errorf("error = %v", err)
	}
	if err := svc.WriteMkdirAll("sub/dir/file.txt", "x"); err != nil {
		t.Fatalf("WriteMkdirAll: %v", err)
	}
	content, err := svc.Read("sub/dir/file.txt")
	if err != nil || content != "x" {
		t.Errorf("read back = %q, %v", content, err)
	}
}

func TestReadMissingFile(t *testing.T) {
	svc := newService(t)
	if _, err := svc.Read("nope.txt"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
