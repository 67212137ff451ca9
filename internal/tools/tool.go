// Package tools defines the agent tool boundary: the Tool capability
// interface, the per-phase access policy, and the audited invocation wrapper
// with its narrow self-healing fallbacks.
package tools

import "context"

// Tool is the single capability interface every tool adapter implements.
// Input and output are JSON strings; the engine never introspects adapters
// beyond this interface.
type Tool interface {
	// Name returns the canonical tool name (e.g. "read_file"). Names may be
	// namespaced by the hosting server ("fs.read_file"); policy matching is
	// suffix-tolerant.
	Name() string
	// Call executes the tool with a JSON input payload.
	Call(ctx context.Context, input string) (string, error)
}

// Well-known filesystem tool names.
const (
	ToolListDirectory = "list_directory"
	ToolReadFile      = "read_file"
	ToolWriteFile     = "write_file"
)

// Filter returns the subset of available tools whose names match the allowed
// set. An empty allowed set filters everything out.
func Filter(available []Tool, allowed []string) []Tool {
	if len(allowed) == 0 {
		return nil
	}
	var out []Tool
	for _, tool := range available {
		for _, name := range allowed {
			if MatchesName(tool.Name(), name) {
				out = append(out, tool)
				break
			}
		}
	}
	return out
}
