package planner

import (
	"fmt"
	"strings"

	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/pkg/models"
)

// System prompt templates. Role lists, task caps, and registries are
// interpolated at build time.
const (
	roleSelectionSystemTemplate = `You are the agent selector. Choose the minimal set of worker roles needed to satisfy the user request.
Only choose from: %s.
Use the role skill registry to match roles to required skills.
Order roles in likely execution order (analysis/design first, engineering later).
Return only JSON that matches: {"roles": ["role1", ...]}.`

	roleSelectionEditsInstruction = "\nAlways include the engineering role because code changes are required.\n"

	orchestratorSystemTemplate = `You are the Orchestrator agent. Break the user's request into up to %d parallel tasks.
Only assign roles from: %s.
Match tasks to the role skill registry below.
Analysis and design tasks are advisory and must not modify files.
Engineering tasks should apply file edits when required.
Keep tasks independent and specific. Each task should be actionable by a single worker.
You may use filesystem tools to inspect the workspace when needed.
If the user requests code or content changes, ensure at least one task is explicitly responsible for applying file edits via filesystem tools.
Make it clear which task should write files and which should not.
Return only JSON that matches the requested schema.

Role skill registry:
%s`

	orchestratorEditsInstruction = "\n\nThe user request requires code changes. Ensure the plan includes implementation tasks that will modify files.\n"

	executionReviewSystemTemplate = `You are the execution reviewer. Decide if additional tasks are required to fully satisfy the user request.
Only assign roles from: %s.
Do NOT include analysis or design tasks; those are already complete.
If the work is complete, return an empty tasks array.
Return only JSON that matches the requested schema.`

	executionReviewEditsInstruction = "\nIf edits are still required, ensure engineering tasks perform them.\n"

	workerSystemTemplate = `You are a %s worker agent.
Focus only on the assigned task. Be concise and practical.
You must follow the expected output for this task.
You may use filesystem tools to read or list files in the workspace.
When the task requires code changes, you MUST use filesystem tools to read and write files to apply the changes.
If the task does not explicitly instruct file edits, do not write files.
Only the implementer role should apply file edits.
If assumptions are required, list them explicitly.`

	workerEditsInstruction = "\n\nThis request involves code changes. If your task's expected output says to apply changes, you must do so by editing files.\n"

	synthesisSystemPrompt = `You are the synthesis agent. Combine worker outputs into a single, coherent response.
Resolve conflicts, remove duplication, and answer the user's request directly.
If tool output was used, summarize relevant file changes accurately.`

	collaborationSystemTemplate = `You are a %s worker agent collaborating with peer agents on the same task.
Build on the shared context from previous rounds where useful.
Focus only on the assigned task. Be concise and practical.`

	// InvalidJSONRetryPrompt is appended to the system prompt when a
	// structured response failed to parse and the call is retried once.
	InvalidJSONRetryPrompt = "\nYour last response was invalid JSON. Return only valid JSON."
)

// Per-role handoff schemas appended when a structured handoff is requested.
const (
	analysisHandoffSchema    = `{"summary": "...", "requirements": ["..."], "risks": ["..."], "openQuestions": ["..."]}`
	designHandoffSchema      = `{"summary": "...", "components": ["..."], "steps": ["..."], "notes": ["..."]}`
	engineeringHandoffSchema = `{"summary": "...", "decisions": ["..."], "filesToChange": ["..."]}`
	implementerHandoffSchema = `{"summary": "...", "filesChanged": ["..."], "followUps": ["..."]}`
)

// Prompts builds system and user prompts from configuration. Every system
// prompt ends with the current workspace tree.
type Prompts struct {
	cfg *config.Config
}

// NewPrompts creates a prompt builder.
func NewPrompts(cfg *config.Config) *Prompts {
	return &Prompts{cfg: cfg}
}

// RoleSelectionSystem builds the role-selection system prompt.
func (p *Prompts) RoleSelectionSystem(requiresEdits bool, allowedRoles []string) string {
	prompt := fmt.Sprintf(roleSelectionSystemTemplate, strings.Join(allowedRoles, ", "))
	if requiresEdits {
		prompt += roleSelectionEditsInstruction
	}
	return p.appendWorkspace(prompt)
}

// OrchestratorSystem builds the planning system prompt.
func (p *Prompts) OrchestratorSystem(requiresEdits bool, allowedRoles []string, registry string) string {
	prompt := fmt.Sprintf(orchestratorSystemTemplate,
		p.cfg.Orchestration.MaxTasks, strings.Join(allowedRoles, ", "), registry)
	if requiresEdits {
		prompt += orchestratorEditsInstruction
	}
	prompt = appendSkills(prompt, p.cfg.Skills.Orchestrator)
	return p.appendWorkspace(prompt)
}

// ExecutionReviewSystem builds the continuation-review system prompt.
func (p *Prompts) ExecutionReviewSystem(requiresEdits bool, allowedRoles []string) string {
	prompt := fmt.Sprintf(executionReviewSystemTemplate, strings.Join(allowedRoles, ", "))
	if requiresEdits {
		prompt += executionReviewEditsInstruction
	}
	return p.appendWorkspace(prompt)
}

// WorkerSystem builds a worker system prompt for a role, with that role's
// skills and optionally its handoff schema.
func (p *Prompts) WorkerSystem(role string, requiresEdits, includeHandoffSchema bool) string {
	prompt := fmt.Sprintf(workerSystemTemplate, role)
	if requiresEdits {
		prompt += workerEditsInstruction
	}
	prompt = appendSkills(prompt, p.cfg.Skills.ForWorkerRole(role))
	if includeHandoffSchema {
		if schema := handoffSchemaForRole(role); schema != "" {
			prompt += "\n\nReturn only JSON that matches this handoff schema:\n" + schema
		}
	}
	return p.appendWorkspace(prompt)
}

// SynthesisSystem builds the synthesis system prompt.
func (p *Prompts) SynthesisSystem() string {
	return p.appendWorkspace(appendSkills(synthesisSystemPrompt, p.cfg.Skills.Synthesis))
}

// CollaborationSystem builds the system prompt for one collaboration stage.
// The stage instruction describes what this stage should produce; finalStage
// appends the role's handoff schema.
func (p *Prompts) CollaborationSystem(role, strategyLabel, stageInstruction string, finalStage bool) string {
	prompt := fmt.Sprintf(collaborationSystemTemplate, role)
	if strategyLabel != "" {
		prompt += "\n\nStrategy: " + strategyLabel
	}
	if strings.TrimSpace(stageInstruction) != "" {
		prompt += "\n\n" + strings.TrimSpace(stageInstruction)
	}
	prompt = appendSkills(prompt, p.cfg.Skills.ForWorkerRole(role))
	if finalStage {
		if schema := handoffSchemaForRole(role); schema != "" {
			prompt += "\n\nFinal stage output must return only JSON that matches this handoff schema:\n" + schema
		}
	}
	return p.appendWorkspace(prompt)
}

// OrchestratorUser builds the planning user prompt.
func OrchestratorUser(input, context string) string {
	return fmt.Sprintf("User request:\n%s\n\nContext:\n%s", input, DefaultContext(context))
}

// RoleSelectionUser builds the role-selection user prompt.
func RoleSelectionUser(input, context, registry string) string {
	return fmt.Sprintf("User request:\n%s\n\nContext:\n%s\n\nAvailable roles and skills:\n%s",
		input, DefaultContext(context), registry)
}

// ExecutionReviewUser builds the continuation-review user prompt.
func ExecutionReviewUser(input, context, errorSummary, planJSON, resultsJSON string) string {
	errors := errorSummary
	if strings.TrimSpace(errors) == "" {
		errors = "None."
	}
	return fmt.Sprintf(
		"User request:\n%s\n\nContext:\n%s\n\nErrors from previous iteration:\n%s\n\nCurrent plan:\n%s\n\nWorker outputs so far:\n%s",
		input, DefaultContext(context), errors, planJSON, resultsJSON)
}

// WorkerUser builds the worker user prompt for one task.
func WorkerUser(input, context string, task models.Task) string {
	return fmt.Sprintf(
		"User request:\n%s\n\nContext:\n%s\n\nAssigned task:\n%s\n\nExpected output:\n%s",
		input, DefaultContext(context), task.Description, task.ExpectedOutput)
}

// SynthesisUser builds the synthesis user prompt.
func SynthesisUser(input, planJSON, resultsContext string) string {
	return fmt.Sprintf("User request:\n%s\n\nPlan:\n%s\n\nWorker outputs:\n%s",
		input, planJSON, resultsContext)
}

func (p *Prompts) appendWorkspace(prompt string) string {
	return prompt + "\n\n" + BuildWorkspaceContext(p.cfg.Orchestration.WorkspaceRoot)
}

func appendSkills(prompt string, skills []config.Skill) string {
	if len(skills) == 0 {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nYou have the following skills:\n")
	for _, skill := range skills {
		sb.WriteString("\n### " + skill.Name)
		if strings.TrimSpace(skill.Description) != "" {
			sb.WriteString("\n" + skill.Description)
		}
		if strings.TrimSpace(skill.Instructions) != "" {
			sb.WriteString("\nInstructions: " + skill.Instructions)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func handoffSchemaForRole(role string) string {
	switch models.NormalizeRole(role) {
	case models.RoleAnalysis:
		return analysisHandoffSchema
	case models.RoleDesign:
		return designHandoffSchema
	case models.RoleEngineering:
		return engineeringHandoffSchema
	case models.RoleImplementer:
		return implementerHandoffSchema
	}
	return ""
}
