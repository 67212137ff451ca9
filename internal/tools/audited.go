package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/bko/agentmux/internal/fileio"
)

// Audited wraps a Tool so every call is recorded and transient filesystem
// errors get one narrow recovery attempt instead of aborting the worker
// turn. Recoveries are recorded as successful calls so downstream
// "did this worker call a tool" checks are not fooled.
type Audited struct {
	delegate Tool
	audit    *Audit
	files    *fileio.Service
}

// NewAudited wraps delegate with auditing against audit. The file service is
// used by the recovery paths; it may be nil, which disables them.
func NewAudited(delegate Tool, audit *Audit, files *fileio.Service) *Audited {
	return &Audited{delegate: delegate, audit: audit, files: files}
}

// Name returns the delegate's name.
func (t *Audited) Name() string {
	return t.delegate.Name()
}

// Call invokes the delegate, recording the outcome. On failure it attempts
// the read/list diagnostic fallback, then the write mkdir-and-retry
// fallback, before propagating the error.
func (t *Audited) Call(ctx context.Context, input string) (string, error) {
	output, err := t.delegate.Call(ctx, input)
	if err == nil {
		t.audit.Record(t.Name(), input, output)
		return output, nil
	}
	if fallback, ok := t.readFallback(input, err); ok {
		t.audit.Record(t.Name(), input, fallback)
		return fallback, nil
	}
	if fallback, ok := t.writeFallback(input, err); ok {
		t.audit.Record(t.Name(), input, fallback)
		return fallback, nil
	}
	return "", err
}

// readFallback converts a "not found" failure of a read/list tool into a
// diagnostic success response carrying a parent-directory listing hint, so
// the model can correct its path on the next step of the same turn.
func (t *Audited) readFallback(input string, err error) (string, bool) {
	name := t.Name()
	if !MatchesName(name, ToolReadFile) && !MatchesName(name, ToolListDirectory) {
		return "", false
	}
	message := err.Error()
	normalized := strings.ToLower(message)
	if !strings.Contains(normalized, "no such file") &&
		!strings.Contains(normalized, "not found") &&
		!strings.Contains(normalized, "enoent") {
		return "", false
	}
	hint := ""
	path := extractPathFromInput(input)
	if path == "" {
		path = extractPathFromMessage(message)
	}
	if path != "" {
		hint = t.directoryHint(path)
	}
	log.Printf("[audit] recoverable tool error for %s: %s", name, message)
	combined := "Tool error: " + message
	if hint != "" {
		combined += " " + hint
	}
	return diagnosticResponse(combined), true
}

// writeFallback retries a write that failed only because the parent
// directory was missing, creating it first.
func (t *Audited) writeFallback(input string, err error) (string, bool) {
	if !MatchesName(t.Name(), ToolWriteFile) || t.files == nil {
		return "", false
	}
	if !strings.Contains(strings.ToLower(err.Error()), "parent directory does not exist") {
		return "", false
	}
	path := extractPathFromInput(input)
	if path == "" {
		return "", false
	}
	var payload struct {
		Content string `json:"content"`
	}
	_ = json.Unmarshal([]byte(input), &payload)
	if writeErr := t.files.WriteMkdirAll(path, payload.Content); writeErr != nil {
		log.Printf("[audit] write_file fallback failed: %v", writeErr)
		return "", false
	}
	log.Printf("[audit] write_file fallback created parent directories: path=%s", path)
	return diagnosticResponse("Fallback write_file: created parent directories and wrote file."), true
}

// directoryHint lists the parent directory of path, best-effort.
func (t *Audited) directoryHint(path string) string {
	if t.files == nil {
		return ""
	}
	entries, err := t.files.List(filepath.Dir(path))
	if err != nil {
		return ""
	}
	if len(entries) == 0 {
		return "Directory is empty."
	}
	names := make([]string, 0, 20)
	for _, entry := range entries {
		names = append(names, entry.Name)
		if len(names) == 20 {
			break
		}
	}
	return fmt.Sprintf("Directory entries: [%s]", strings.Join(names, ", "))
}

// diagnosticResponse shapes a message like a normal tool text response.
func diagnosticResponse(message string) string {
	payload := map[string]any{
		"content": []map[string]string{{"type": "text", "text": message}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"content":[{"type":"text","text":` + strings.ReplaceAll(message, `"`, `\"`) + `}]}`
	}
	return string(data)
}

// extractPathFromInput pulls the target path out of a JSON tool input,
// accepting the key spellings seen across tool servers.
func extractPathFromInput(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return ""
	}
	for _, key := range []string{"path", "file_path", "filePath"} {
		if value, ok := payload[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// extractPathFromMessage scrapes a path out of an error message when the
// input had none. Heuristic, best-effort.
func extractPathFromMessage(message string) string {
	if message == "" {
		return ""
	}
	lowered := strings.ToLower(message)
	for _, marker := range []string{"open '", `open "`, "exist: ", "file not found: "} {
		start := strings.Index(lowered, marker)
		if start < 0 {
			continue
		}
		begin := start + len(marker)
		rest := message[begin:]
		end := strings.IndexAny(rest, `'"`)
		if end < 0 {
			end = len(rest)
		}
		return strings.TrimSpace(rest[:end])
	}
	return ""
}
