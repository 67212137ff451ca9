// Package planner owns the plan/role protocol: role selection, plan and
// continuation requests, plan sanitization, and the failure bookkeeping that
// feeds retry plans.
package planner

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bko/agentmux/internal/agent"
	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/internal/tools"
	"github.com/bko/agentmux/pkg/models"
)

// Reserved task ids. Synthetic tasks carry fixed ids so plans coming back
// from the model cannot collide with them.
const (
	TaskIDAnalysis       = "analysis-1"
	TaskIDDesign         = "design-1"
	TaskIDImplementation = "task-impl"
	TaskIDFallback       = "task-1"
	TaskIDContext        = "task-context"
	TaskIDDiscovery      = "task-discovery"
	TaskPrefix           = "task-"
)

// Fixed texts for the synthetic tasks and fallback plans.
const (
	defaultImplementationInstruction   = "Implement the requested changes."
	defaultCompleteResponseInstruction = "Provide a complete response to the user request."

	analysisTaskDescription    = "Analyze the user request. Identify requirements, constraints, risks, and edge cases."
	analysisTaskExpectedOutput = "Provide structured analysis and open questions if any. Do not modify files."
	designTaskDescription      = "Propose a design/approach for the request, including components, APIs, data flow, and steps."
	designTaskExpectedOutput   = "Provide a clear design and implementation guidance. Do not modify files."

	discoveryTaskDescription    = "Survey the workspace. Identify the project layout, key files, and anything relevant to the user request."
	discoveryTaskExpectedOutput = "Provide a short summary of the workspace relevant to the request. Do not modify files."

	contextSyncTaskDescription    = "Condense the findings so far into a shared context brief for the remaining workers."
	contextSyncTaskExpectedOutput = "Provide a concise context brief covering decisions, constraints, and open items. Do not modify files."
)

// Planner issues the planning-phase model calls and enforces plan hygiene.
type Planner struct {
	agents  *agent.Service
	cfg     *config.Config
	prompts *Prompts
}

// New creates a Planner.
func New(agents *agent.Service, cfg *config.Config) *Planner {
	return &Planner{agents: agents, cfg: cfg, prompts: NewPrompts(cfg)}
}

// Prompts exposes the prompt builder for components that share it.
func (p *Planner) Prompts() *Prompts {
	return p.prompts
}

// AvailableRoles returns the configured worker role set.
func (p *Planner) AvailableRoles() []string {
	return p.cfg.Orchestration.WorkerRoles
}

// SelectRoles asks the model for the minimal role set for the request, then
// sanitizes the answer. Any failure falls back to the full configured set.
func (p *Planner) SelectRoles(ctx context.Context, userMessage string, requiresEdits bool, baseContext string) []string {
	available := p.AvailableRoles()
	registry := BuildRoleRegistry(available, p.cfg.Skills)
	system := p.prompts.RoleSelectionSystem(requiresEdits, available)
	prompt := RoleSelectionUser(userMessage, baseContext, registry)

	var selection models.RoleSelection
	if err := p.requestJSON(ctx, "role-selection", system, prompt, &selection); err != nil {
		roles := p.sanitizeSelectedRoles(nil, requiresEdits)
		log.Printf("[planner] selected roles (fallback): %s", strings.Join(roles, ", "))
		return roles
	}
	roles := p.sanitizeSelectedRoles(selection.Roles, requiresEdits)
	log.Printf("[planner] selected roles: %s", strings.Join(roles, ", "))
	return roles
}

// RequestPlan asks the model for a task plan and sanitizes it.
func (p *Planner) RequestPlan(ctx context.Context, userMessage string, requiresEdits bool,
	allowedRoles []string, planContext string, excludeAdvisory, allowEmpty bool) models.Plan {

	registry := BuildRoleRegistry(allowedRoles, p.cfg.Skills)
	system := p.prompts.OrchestratorSystem(requiresEdits, allowedRoles, registry)
	prompt := OrchestratorUser(userMessage, planContext)

	var plan models.Plan
	if err := p.requestJSON(ctx, "plan", system, prompt, &plan); err != nil {
		return p.SanitizePlan(nil, userMessage, requiresEdits, allowedRoles, excludeAdvisory, allowEmpty)
	}
	return p.SanitizePlan(&plan, userMessage, requiresEdits, allowedRoles, excludeAdvisory, allowEmpty)
}

// RequestContinuationPlan asks the execution reviewer whether more tasks are
// needed, given the current plan, results, and any error summary.
func (p *Planner) RequestContinuationPlan(ctx context.Context, userMessage string, requiresEdits bool,
	allowedRoles []string, planContext, errorSummary string,
	plan models.Plan, results []models.WorkerResult, excludeAdvisory, allowEmpty bool) models.Plan {

	system := p.prompts.ExecutionReviewSystem(requiresEdits, allowedRoles)
	prompt := ExecutionReviewUser(userMessage, planContext, errorSummary, ToJSON(plan), ToJSON(results))

	var continuation models.Plan
	if err := p.requestJSON(ctx, "plan-review", system, prompt, &continuation); err != nil {
		return p.SanitizePlan(nil, userMessage, requiresEdits, allowedRoles, excludeAdvisory, allowEmpty)
	}
	return p.SanitizePlan(&continuation, userMessage, requiresEdits, allowedRoles, excludeAdvisory, allowEmpty)
}

// requestJSON runs an orchestrator-phase invocation expecting a JSON object
// response, retrying once with an explicit correction when parsing fails.
func (p *Planner) requestJSON(ctx context.Context, label, system, prompt string, out any) error {
	outcome, err := p.agents.Run(ctx, agent.Invocation{
		Phase:  tools.PhaseOrchestrator,
		TaskID: label,
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return err
	}
	if DecodeJSON(label, outcome.Output, out) == nil {
		return nil
	}

	outcome, err = p.agents.Run(ctx, agent.Invocation{
		Phase:  tools.PhaseOrchestrator,
		TaskID: label + "-retry",
		System: system + InvalidJSONRetryPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return err
	}
	return DecodeJSON(label+"-retry", outcome.Output, out)
}

// SanitizePlan enforces every plan invariant: task-count clamp, role
// normalization with fallback, reserved-id and advisory filtering,
// duplicate collapsing, field defaulting, edit-instruction stamping, and the
// guaranteed implementer task when edits are required. Passing a sanitized
// plan back through produces the same plan.
func (p *Planner) SanitizePlan(plan *models.Plan, userMessage string, requiresEdits bool,
	allowedRoles []string, excludeAdvisory, allowEmpty bool) models.Plan {

	if plan == nil || plan.Tasks == nil {
		if allowEmpty {
			return models.Plan{Objective: userMessage, Tasks: []models.Task{}}
		}
		return p.defaultPlan(userMessage, requiresEdits, allowedRoles)
	}
	objective := plan.Objective
	if strings.TrimSpace(objective) == "" {
		objective = userMessage
	}
	normalizedRoles := p.normalizeAllowedRoles(allowedRoles)
	maxTasks := min(p.cfg.Orchestration.MaxTasks, len(plan.Tasks))
	sanitized := make([]models.Task, 0, maxTasks+1)
	seen := make(map[string]bool, maxTasks)

	for index := 0; index < maxTasks; index++ {
		task := plan.Tasks[index]
		role := normalizeTaskRole(task.Role, normalizedRoles)
		if excludeAdvisory && models.IsAdvisory(role) {
			continue
		}
		id := strings.TrimSpace(task.ID)
		if id == "" {
			id = fmt.Sprintf("%s%d", TaskPrefix, index+1)
		}
		if strings.EqualFold(id, TaskIDContext) || strings.EqualFold(id, TaskIDDiscovery) {
			continue
		}
		description := task.Description
		if strings.TrimSpace(description) == "" {
			description = userMessage
		}
		expectedOutput := task.ExpectedOutput
		if strings.TrimSpace(expectedOutput) == "" {
			expectedOutput = DefaultExpectedOutput
		}
		if requiresEdits {
			expectedOutput = AppendFileEditInstruction(expectedOutput, role == models.RoleImplementer)
		}
		signature := taskSignature(role, description)
		if seen[signature] {
			continue
		}
		seen[signature] = true
		sanitized = append(sanitized, models.Task{
			ID:             id,
			Role:           role,
			Description:    description,
			ExpectedOutput: expectedOutput,
		})
	}

	if requiresEdits && !hasRole(sanitized, models.RoleImplementer) {
		sanitized = append(sanitized, models.Task{
			ID:             TaskIDImplementation,
			Role:           models.RoleImplementer,
			Description:    userMessage,
			ExpectedOutput: AppendFileEditInstruction(defaultImplementationInstruction, true),
		})
	}
	if len(sanitized) == 0 {
		if allowEmpty {
			return models.Plan{Objective: objective, Tasks: []models.Task{}}
		}
		return p.defaultPlan(userMessage, requiresEdits, allowedRoles)
	}
	return models.Plan{Objective: objective, Tasks: sanitized}
}

// defaultPlan is the single-task fallback when the model returns nothing
// usable and an empty plan is not acceptable.
func (p *Planner) defaultPlan(userMessage string, requiresEdits bool, allowedRoles []string) models.Plan {
	normalized := p.normalizeAllowedRoles(allowedRoles)
	role := models.FallbackRole(normalized)
	if requiresEdits {
		switch {
		case contains(normalized, models.RoleImplementer):
			role = models.RoleImplementer
		case contains(normalized, models.RoleEngineering):
			role = models.RoleEngineering
		}
	}
	expectedOutput := defaultCompleteResponseInstruction
	if requiresEdits {
		expectedOutput = AppendFileEditInstruction(expectedOutput, role == models.RoleImplementer)
	}
	return models.Plan{
		Objective: userMessage,
		Tasks: []models.Task{{
			ID:             TaskIDFallback,
			Role:           role,
			Description:    userMessage,
			ExpectedOutput: expectedOutput,
		}},
	}
}

// DiscoveryTask builds the synthetic workspace-survey task.
func (p *Planner) DiscoveryTask() models.Task {
	roles := p.AvailableRoles()
	role := models.FallbackRole(roles)
	if contains(roles, models.RoleAnalysis) {
		role = models.RoleAnalysis
	}
	return models.Task{
		ID:             TaskIDDiscovery,
		Role:           role,
		Description:    discoveryTaskDescription,
		ExpectedOutput: discoveryTaskExpectedOutput,
	}
}

// AnalysisTask builds the synthetic advisory analysis task, or returns false
// when analysis was not selected.
func (p *Planner) AnalysisTask(selectedRoles []string) (models.Task, bool) {
	if !contains(selectedRoles, models.RoleAnalysis) {
		return models.Task{}, false
	}
	return models.Task{
		ID:             TaskIDAnalysis,
		Role:           models.RoleAnalysis,
		Description:    analysisTaskDescription,
		ExpectedOutput: analysisTaskExpectedOutput + "\nHandoff schema:\n" + analysisHandoffSchema,
	}, true
}

// DesignTask builds the synthetic advisory design task, or returns false
// when design was not selected.
func (p *Planner) DesignTask(selectedRoles []string) (models.Task, bool) {
	if !contains(selectedRoles, models.RoleDesign) {
		return models.Task{}, false
	}
	return models.Task{
		ID:             TaskIDDesign,
		Role:           models.RoleDesign,
		Description:    designTaskDescription,
		ExpectedOutput: designTaskExpectedOutput + "\nHandoff schema:\n" + designHandoffSchema,
	}, true
}

// ContextSyncTask builds the synthetic context-condensation task, assigned
// to analysis when selected, otherwise the general role.
func (p *Planner) ContextSyncTask(selectedRoles []string) models.Task {
	role := models.RoleGeneral
	if contains(selectedRoles, models.RoleAnalysis) {
		role = models.RoleAnalysis
	}
	return models.Task{
		ID:             TaskIDContext,
		Role:           role,
		Description:    contextSyncTaskDescription,
		ExpectedOutput: contextSyncTaskExpectedOutput,
	}
}

// CollectFailures pairs failed results with their tasks.
func CollectFailures(results []models.WorkerResult, tasks []models.Task) []models.FailureDetail {
	if len(results) == 0 || len(tasks) == 0 {
		return nil
	}
	byID := make(map[string]models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}
	var failures []models.FailureDetail
	for _, result := range results {
		if !IsFailureOutput(result.Output) {
			continue
		}
		task, ok := byID[result.TaskID]
		if !ok {
			continue
		}
		failures = append(failures, models.FailureDetail{
			Task:   task,
			Reason: extractFailureReason(result.Output),
		})
	}
	return failures
}

// BuildErrorSummary renders failures for the continuation prompt.
func BuildErrorSummary(failures []models.FailureDetail) string {
	if len(failures) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, failure := range failures {
		fmt.Fprintf(&sb, "- [%s %s] %s\n", failure.Task.Role, failure.Task.ID, failure.Reason)
	}
	return strings.TrimSpace(sb.String())
}

// BuildRetryPlan reissues the failed tasks with their failure reasons folded
// into the descriptions.
func BuildRetryPlan(objective string, failures []models.FailureDetail) models.Plan {
	tasks := make([]models.Task, 0, len(failures))
	for _, failure := range failures {
		task := failure.Task
		if strings.TrimSpace(failure.Reason) != "" {
			task.Description = task.Description + " (Retry and resolve error: " + failure.Reason + ")"
		}
		tasks = append(tasks, task)
	}
	return models.Plan{Objective: objective, Tasks: tasks}
}

// IsFailureOutput reports whether a worker output is a failure sentinel.
func IsFailureOutput(output string) bool {
	if strings.TrimSpace(output) == "" {
		return false
	}
	normalized := strings.ToLower(output)
	return strings.HasPrefix(normalized, strings.ToLower(models.WorkerFailedPrefix)) ||
		strings.Contains(normalized, "tool error:")
}

func extractFailureReason(output string) string {
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, models.WorkerFailedPrefix) {
		return strings.TrimSpace(trimmed[len(models.WorkerFailedPrefix):])
	}
	return trimmed
}

func (p *Planner) sanitizeSelectedRoles(selected []string, requiresEdits bool) []string {
	available := p.AvailableRoles()
	roles := make([]string, 0, len(available))
	for _, role := range models.NormalizeRoles(selected) {
		if contains(available, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		roles = append(roles, available...)
	}
	if requiresEdits {
		if !contains(roles, models.RoleEngineering) && contains(available, models.RoleEngineering) {
			roles = append(roles, models.RoleEngineering)
		}
		if !contains(roles, models.RoleImplementer) {
			switch {
			case contains(available, models.RoleImplementer):
				roles = append(roles, models.RoleImplementer)
			case contains(available, models.RoleEngineering):
				if !contains(roles, models.RoleEngineering) {
					roles = append(roles, models.RoleEngineering)
				}
			default:
				fallback := models.FallbackRole(available)
				if !contains(roles, fallback) {
					roles = append(roles, fallback)
				}
			}
		}
	}
	return roles
}

func (p *Planner) normalizeAllowedRoles(allowedRoles []string) []string {
	normalized := models.NormalizeRoles(allowedRoles)
	if len(normalized) == 0 {
		return p.AvailableRoles()
	}
	return normalized
}

// taskSignature is the duplicate-collapse key: role plus the description
// with whitespace collapsed, both lowercased.
func taskSignature(role, description string) string {
	normalizedDescription := strings.ToLower(strings.Join(strings.Fields(description), " "))
	return models.NormalizeRole(role) + "::" + normalizedDescription
}

func normalizeTaskRole(role string, allowedRoles []string) string {
	normalized := models.NormalizeRole(role)
	if normalized == "" || !contains(allowedRoles, normalized) {
		return models.FallbackRole(allowedRoles)
	}
	return normalized
}

func hasRole(tasks []models.Task, role string) bool {
	for _, task := range tasks {
		if task.Role == role {
			return true
		}
	}
	return false
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
