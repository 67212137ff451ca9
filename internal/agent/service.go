package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/bko/agentmux/internal/fileio"
	"github.com/bko/agentmux/internal/tools"
)

// Invocation describes one policy-scoped model call.
type Invocation struct {
	// Phase selects the tool policy bucket.
	Phase tools.Phase
	// Role is the worker role for PhaseWorker; ignored otherwise.
	Role string
	// TaskID tags the audit trail. May be a synthetic id for non-task calls.
	TaskID string
	System string
	Prompt string
}

// Outcome is the result of one invocation together with its audit trail.
type Outcome struct {
	Output     string
	ToolCalls  []tools.CallRecord
	CallCount  int
	WriteCount int
}

// Service issues model invocations with least-privilege tool access. Each
// call gets a fresh audit; the caller decides what to do with the trail.
type Service struct {
	invoker Invoker
	policy  *tools.Policy
	files   *fileio.Service
}

// NewService wires the invocation service.
func NewService(invoker Invoker, policy *tools.Policy, files *fileio.Service) *Service {
	return &Service{invoker: invoker, policy: policy, files: files}
}

// Run executes one invocation: resolve the allowed tools for the phase and
// role, build the audited tool set, invoke the model, and return the output
// with the audit snapshot.
func (s *Service) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	audit := tools.NewAudit(inv.Role, inv.TaskID)

	var toolSet []tools.Tool
	allowed := s.policy.AllowedToolNames(inv.Phase, inv.Role)
	if len(allowed) > 0 && s.files != nil {
		toolSet = tools.Filter(tools.FilesystemTools(s.files, audit), allowed)
	}
	log.Printf("[agent] invoke: phase=%d role=%s task=%s tools=%d",
		inv.Phase, inv.Role, inv.TaskID, len(toolSet))

	output, err := s.invoker.Invoke(ctx, Request{
		System: inv.System,
		Prompt: inv.Prompt,
		Tools:  toolSet,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("invoke %s: %w", inv.TaskID, err)
	}

	return Outcome{
		Output:     output,
		ToolCalls:  audit.Snapshot(),
		CallCount:  audit.Count(),
		WriteCount: audit.WriteCount(),
	}, nil
}
