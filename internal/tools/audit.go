package tools

import (
	"log"
	"strings"
	"sync"
)

// maxSnippet bounds recorded tool inputs and outputs.
const maxSnippet = 2000

// CallRecord is one audited tool invocation. Input and output are truncated
// and newline-flattened so records stay loggable.
type CallRecord struct {
	Name   string
	Input  string
	Output string
}

// Audit accumulates the tool calls made during a single worker invocation.
// It is owned by that invocation; the scheduler reads it afterward to decide
// whether required tool calls actually happened and to persist the trail.
type Audit struct {
	mu     sync.Mutex
	role   string
	taskID string
	calls  []CallRecord
}

// NewAudit creates an Audit tagged with the role and task it belongs to.
func NewAudit(role, taskID string) *Audit {
	return &Audit{role: role, taskID: taskID}
}

// Record appends one call to the trail.
func (a *Audit) Record(name, input, output string) {
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	record := CallRecord{
		Name:   name,
		Input:  truncateSnippet(input),
		Output: truncateSnippet(output),
	}
	a.mu.Lock()
	a.calls = append(a.calls, record)
	a.mu.Unlock()
	log.Printf("[audit] tool call: name=%s role=%s task=%s input=%s",
		name, a.role, a.taskID, record.Input)
}

// Count returns the number of recorded calls.
func (a *Audit) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// WriteCount returns the number of recorded write_file calls, matching
// namespaced variants the same way the policy does.
func (a *Audit) WriteCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, record := range a.calls {
		if MatchesName(record.Name, ToolWriteFile) {
			total++
		}
	}
	return total
}

// Snapshot returns a copy of the recorded calls in order.
func (a *Audit) Snapshot() []CallRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]CallRecord, len(a.calls))
	copy(out, a.calls)
	return out
}

// truncateSnippet flattens newlines and clamps length for audit storage.
func truncateSnippet(value string) string {
	normalized := strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(normalized) <= maxSnippet {
		return normalized
	}
	return normalized[:maxSnippet] + "..."
}
