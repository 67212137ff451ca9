package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bko/agentmux/internal/fileio"
)

// fsInput is the JSON payload shared by the filesystem tools.
type fsInput struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

func decodeFSInput(input string) (fsInput, error) {
	var in fsInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return in, fmt.Errorf("decode tool input: %w", err)
	}
	if in.Path == "" {
		// Tolerate the alternate key spellings some models emit.
		var alt struct {
			FilePath  string `json:"file_path"`
			FilePath2 string `json:"filePath"`
		}
		_ = json.Unmarshal([]byte(input), &alt)
		if alt.FilePath != "" {
			in.Path = alt.FilePath
		} else if alt.FilePath2 != "" {
			in.Path = alt.FilePath2
		}
	}
	return in, nil
}

// ListDirectoryTool lists entries of a workspace directory.
type ListDirectoryTool struct {
	files *fileio.Service
}

// NewListDirectoryTool creates the list_directory adapter.
func NewListDirectoryTool(files *fileio.Service) *ListDirectoryTool {
	return &ListDirectoryTool{files: files}
}

func (t *ListDirectoryTool) Name() string { return ToolListDirectory }

func (t *ListDirectoryTool) Call(_ context.Context, input string) (string, error) {
	in, err := decodeFSInput(input)
	if err != nil {
		return "", err
	}
	entries, err := t.files.List(in.Path)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode directory entries: %w", err)
	}
	return string(data), nil
}

// ReadFileTool reads a workspace file.
type ReadFileTool struct {
	files *fileio.Service
}

// NewReadFileTool creates the read_file adapter.
func NewReadFileTool(files *fileio.Service) *ReadFileTool {
	return &ReadFileTool{files: files}
}

func (t *ReadFileTool) Name() string { return ToolReadFile }

func (t *ReadFileTool) Call(_ context.Context, input string) (string, error) {
	in, err := decodeFSInput(input)
	if err != nil {
		return "", err
	}
	return t.files.Read(in.Path)
}

// WriteFileTool writes a workspace file. It deliberately does not create
// missing parent directories; the audited wrapper owns that recovery.
type WriteFileTool struct {
	files *fileio.Service
}

// NewWriteFileTool creates the write_file adapter.
func NewWriteFileTool(files *fileio.Service) *WriteFileTool {
	return &WriteFileTool{files: files}
}

func (t *WriteFileTool) Name() string { return ToolWriteFile }

func (t *WriteFileTool) Call(_ context.Context, input string) (string, error) {
	in, err := decodeFSInput(input)
	if err != nil {
		return "", err
	}
	if err := t.files.Write(in.Path, in.Content); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %s (%d bytes)", in.Path, len(in.Content)), nil
}

// FilesystemTools returns the standard workspace tool set, each wrapped with
// auditing against audit.
func FilesystemTools(files *fileio.Service, audit *Audit) []Tool {
	return []Tool{
		NewAudited(NewListDirectoryTool(files), audit, files),
		NewAudited(NewReadFileTool(files), audit, files),
		NewAudited(NewWriteFileTool(files), audit, files),
	}
}

var (
	_ Tool = (*ListDirectoryTool)(nil)
	_ Tool = (*ReadFileTool)(nil)
	_ Tool = (*WriteFileTool)(nil)
	_ Tool = (*Audited)(nil)
)
