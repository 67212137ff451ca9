package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/internal/fileio"
)

func newTestService(t *testing.T) *fileio.Service {
	t.Helper()
	svc, err := fileio.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestMatchesName(t *testing.T) {
	cases := []struct {
		name       string
		configured string
		want       bool
	}{
		{"read_file", "read_file", true},
		{"READ_FILE", "read_file", true},
		{"fs.read_file", "read_file", true},
		{"fs/read_file", "read_file", true},
		{"fs:read_file", "read_file", true},
		{"read_file_v2", "read_file", false},
		{"write_file", "read_file", false},
	}
	for _, tc := range cases {
		if got := MatchesName(tc.name, tc.configured); got != tc.want {
			t.Errorf("MatchesName(%q, %q) = %v, want %v", tc.name, tc.configured, got, tc.want)
		}
	}
}

func TestPolicyDefaults(t *testing.T) {
	policy := NewPolicy(config.ToolsConfig{})

	if names := policy.AllowedToolNames(PhaseOrchestrator, ""); len(names) != 0 {
		t.Errorf("orchestrator should have no tools, got %v", names)
	}
	if names := policy.AllowedToolNames(PhaseSynthesis, ""); len(names) != 0 {
		t.Errorf("synthesis should have no tools, got %v", names)
	}

	impl := policy.AllowedToolNames(PhaseWorker, "implementer")
	if len(impl) != 3 {
		t.Fatalf("implementer tools = %v, want three", impl)
	}
	hasWrite := false
	for _, name := range impl {
		if name == ToolWriteFile {
			hasWrite = true
		}
	}
	if !hasWrite {
		t.Error("implementer should be allowed write_file")
	}

	for _, role := range []string{"analysis", "qa", "research", "unknown-role"} {
		names := policy.AllowedToolNames(PhaseWorker, role)
		if len(names) != 2 {
			t.Fatalf("role %s tools = %v, want read-only pair", role, names)
		}
		for _, name := range names {
			if name == ToolWriteFile {
				t.Errorf("role %s should not be allowed write_file", role)
			}
		}
	}
}

func TestPolicyConfigOverrides(t *testing.T) {
	policy := NewPolicy(config.ToolsConfig{
		Orchestrator: []string{"list_directory"},
		Workers: map[string][]string{
			"QA ": {"read_file"},
		},
	})
	if names := policy.AllowedToolNames(PhaseOrchestrator, ""); len(names) != 1 || names[0] != "list_directory" {
		t.Errorf("orchestrator override = %v", names)
	}
	if names := policy.AllowedToolNames(PhaseWorker, "qa"); len(names) != 1 || names[0] != "read_file" {
		t.Errorf("qa override = %v", names)
	}
}

func TestFilter(t *testing.T) {
	svc := newTestService(t)
	available := []Tool{
		NewListDirectoryTool(svc),
		NewReadFileTool(svc),
		NewWriteFileTool(svc),
	}
	filtered := Filter(available, []string{ToolReadFile, ToolWriteFile})
	if len(filtered) != 2 {
		t.Fatalf("filtered = %d tools, want 2", len(filtered))
	}
	if Filter(available, nil) != nil {
		t.Error("empty allow-list should filter everything out")
	}
}

func TestAuditRecordAndCounts(t *testing.T) {
	audit := NewAudit("implementer", "task-1")
	audit.Record("read_file", `{"path":"a.txt"}`, "hello")
	audit.Record("fs.write_file", `{"path":"b.txt"}`, "ok")
	audit.Record("", "input", "output")

	if got := audit.Count(); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
	if got := audit.WriteCount(); got != 1 {
		t.Errorf("WriteCount = %d, want 1", got)
	}
	snap := audit.Snapshot()
	if snap[2].Name != "unknown" {
		t.Errorf("blank name should record as unknown, got %q", snap[2].Name)
	}
}

func TestAuditTruncation(t *testing.T) {
	audit := NewAudit("qa", "task-2")
	long := strings.Repeat("x", maxSnippet+500)
	audit.Record("read_file", long, "line1\nline2\r\nline3")

	snap := audit.Snapshot()
	if len(snap[0].Input) != maxSnippet+3 {
		t.Errorf("truncated input length = %d, want %d", len(snap[0].Input), maxSnippet+3)
	}
	if !strings.HasSuffix(snap[0].Input, "...") {
		t.Error("truncated input should end with ellipsis")
	}
	if strings.ContainsAny(snap[0].Output, "\r\n") {
		t.Errorf("output should be newline-flattened, got %q", snap[0].Output)
	}
}

func TestFilesystemToolsRoundTrip(t *testing.T) {
	svc := newTestService(t)
	audit := NewAudit("implementer", "task-3")
	ctx := context.Background()

	write := NewAudited(NewWriteFileTool(svc), audit, svc)
	if _, err := write.Call(ctx, `{"path":"notes.txt","content":"hello"}`); err != nil {
		t.Fatalf("write: %v", err)
	}

	read := NewAudited(NewReadFileTool(svc), audit, svc)
	out, err := read.Call(ctx, `{"path":"notes.txt"}`)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out != "hello" {
		t.Errorf("read = %q, want hello", out)
	}

	list := NewAudited(NewListDirectoryTool(svc), audit, svc)
	out, err = list.Call(ctx, `{"path":"."}`)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "notes.txt") {
		t.Errorf("listing should include notes.txt, got %s", out)
	}

	if got := audit.Count(); got != 3 {
		t.Errorf("audit recorded %d calls, want 3", got)
	}
	if got := audit.WriteCount(); got != 1 {
		t.Errorf("audit write count = %d, want 1", got)
	}
}

func TestReadFallbackProducesDiagnostic(t *testing.T) {
	svc := newTestService(t)
	if err := os.MkdirAll(filepath.Join(svc.Root(), "docs"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(svc.Root(), "docs", "readme.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	audit := NewAudit("qa", "task-4")
	read := NewAudited(NewReadFileTool(svc), audit, svc)
	out, err := read.Call(context.Background(), `{"path":"docs/missing.md"}`)
	if err != nil {
		t.Fatalf("read fallback should synthesize a response, got error %v", err)
	}
	if !strings.Contains(out, "Tool error:") {
		t.Errorf("fallback should carry the original error, got %s", out)
	}
	if !strings.Contains(out, "readme.md") {
		t.Errorf("fallback should hint at sibling entries, got %s", out)
	}
	if got := audit.Count(); got != 1 {
		t.Errorf("fallback should be recorded, count = %d", got)
	}
}

func TestWriteFallbackCreatesParents(t *testing.T) {
	svc := newTestService(t)
	audit := NewAudit("implementer", "task-5")
	write := NewAudited(NewWriteFileTool(svc), audit, svc)

	out, err := write.Call(context.Background(), `{"path":"deep/nested/out.txt","content":"data"}`)
	if err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	if !strings.Contains(out, "Fallback write_file") {
		t.Errorf("fallback response = %s", out)
	}
	content, err := svc.Read("deep/nested/out.txt")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if content != "data" {
		t.Errorf("content = %q, want data", content)
	}
}

type failingTool struct{ name string }

func (f failingTool) Name() string { return f.name }
func (f failingTool) Call(context.Context, string) (string, error) {
	return "", errors.New("boom")
}

func TestAuditedNonRecoverableToolError(t *testing.T) {
	audit := NewAudit("qa", "task-6")
	wrapped := NewAudited(failingTool{name: "read_file"}, audit, nil)
	if _, err := wrapped.Call(context.Background(), `{"path":"a"}`); err == nil {
		t.Fatal("expected error for non-matching failure message")
	}
	if got := audit.Count(); got != 0 {
		t.Errorf("failed call should not be recorded, count = %d", got)
	}
}

func TestExtractPathFromInput(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{`{"path":"a/b.txt"}`, "a/b.txt"},
		{`{"file_path":"c.txt"}`, "c.txt"},
		{`{"filePath":"d.txt"}`, "d.txt"},
		{`{"other":"e"}`, ""},
		{`not json`, ""},
		{``, ""},
	}
	for _, tc := range cases {
		if got := extractPathFromInput(tc.input); got != tc.want {
			t.Errorf("extractPathFromInput(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
