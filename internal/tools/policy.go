package tools

import (
	"strings"

	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/pkg/models"
)

// Phase identifies which part of the engine is issuing an LLM call. Tool
// access is decided per phase, and for workers per role.
type Phase int

const (
	// PhaseOrchestrator covers role-selection, planning, and plan review.
	PhaseOrchestrator Phase = iota
	// PhaseWorker covers individual worker turns.
	PhaseWorker
	// PhaseSynthesis covers collaboration-round summaries and final synthesis.
	PhaseSynthesis
)

// Policy computes the allow-list of tool names callable in a given context.
// Configuration overrides take precedence; otherwise hard-coded
// least-privilege defaults apply.
type Policy struct {
	cfg config.ToolsConfig
}

// NewPolicy creates a Policy backed by the tools configuration.
func NewPolicy(cfg config.ToolsConfig) *Policy {
	return &Policy{cfg: cfg}
}

// AllowedToolNames returns the normalized tool names permitted for phase and
// role. Role is ignored outside PhaseWorker.
func (p *Policy) AllowedToolNames(phase Phase, role string) []string {
	var names []string
	switch phase {
	case PhaseOrchestrator:
		names = models.NormalizeRoles(p.cfg.Orchestrator)
	case PhaseSynthesis:
		names = models.NormalizeRoles(p.cfg.Synthesis)
	case PhaseWorker:
		if role == "" {
			names = models.NormalizeRoles(p.cfg.WorkerDefaults)
		} else {
			names = p.cfg.ForWorkerRole(role)
		}
	}
	if len(names) > 0 {
		return names
	}
	return defaultToolNames(phase, role)
}

// defaultToolNames is the least-privilege fallback: planning and synthesis
// get no tools, the implementer gets read-write filesystem access, every
// other worker role is read-only.
func defaultToolNames(phase Phase, role string) []string {
	if phase == PhaseOrchestrator || phase == PhaseSynthesis {
		return nil
	}
	if models.NormalizeRole(role) == models.RoleImplementer {
		return []string{ToolListDirectory, ToolReadFile, ToolWriteFile}
	}
	return []string{ToolListDirectory, ToolReadFile}
}

// MatchesName reports whether a concrete tool name matches a configured
// name. Matching is case-insensitive and tolerates server namespacing:
// "fs.read_file", "fs/read_file", and "fs:read_file" all match "read_file".
func MatchesName(name, configured string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	c := strings.ToLower(strings.TrimSpace(configured))
	if n == c {
		return true
	}
	return strings.HasSuffix(n, "."+c) ||
		strings.HasSuffix(n, "/"+c) ||
		strings.HasSuffix(n, ":"+c)
}
