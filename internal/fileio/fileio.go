// Package fileio provides workspace-confined filesystem access for the
// agent tools. Every path is resolved relative to the workspace root and
// rejected if it escapes it.
package fileio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry describes one directory entry returned by List.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
}

// Service reads and writes files under a single workspace root.
type Service struct {
	root string
}

// NewService creates a Service rooted at root. The root is made absolute so
// confinement checks are stable regardless of the working directory.
func NewService(root string) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Service{root: abs}, nil
}

// Root returns the absolute workspace root.
func (s *Service) Root() string {
	return s.root
}

// resolve maps a tool-supplied path into the workspace and rejects escapes.
func (s *Service) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(s.root, cleaned)
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace root", path)
	}
	return full, nil
}

// List returns the entries of a directory inside the workspace.
func (s *Service) List(path string) ([]Entry, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		var size int64
		if err == nil && !de.IsDir() {
			size = info.Size()
		}
		entries = append(entries, Entry{Name: de.Name(), IsDir: de.IsDir(), Size: size})
	}
	return entries, nil
}

// Read returns the content of a file inside the workspace.
func (s *Service) Read(path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Write stores content at path inside the workspace. The parent directory
// must already exist; WriteMkdirAll is the recovery path used by the tool
// auditor when it does not.
func (s *Service) Write(path, content string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(full)); os.IsNotExist(err) {
		return fmt.Errorf("write %s: parent directory does not exist", path)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteMkdirAll creates any missing parent directories, then writes.
func (s *Service) WriteMkdirAll(path, content string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create parent directories for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
