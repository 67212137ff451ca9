package collab

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bko/agentmux/internal/agent"
	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/internal/planner"
	"github.com/bko/agentmux/internal/stream"
	"github.com/bko/agentmux/internal/tools"
	"github.com/bko/agentmux/pkg/models"
)

// TaskRunner executes one sub-task to completion. Implementations own the
// concurrency bound, the per-task timeout, and the failure sentinel: the
// returned result carries models.WorkerFailedPrefix output instead of an
// error when the sub-task fails or times out.
type TaskRunner interface {
	RunSubTask(ctx context.Context, runID string, task models.Task, requiresEdits bool, taskContext string) models.WorkerResult
}

// Runner drives the collaboration rounds for one task: per round and stage
// it fans out the configured number of agents, summarizes their outputs via
// a synthesis-phase call, and rolls the summary into the next stage's
// context. The last summary becomes the task's result.
type Runner struct {
	cfg     *config.Config
	prompts *planner.Prompts
	agents  *agent.Service
	emitter *stream.Emitter
}

// NewRunner wires a collaboration runner.
func NewRunner(cfg *config.Config, prompts *planner.Prompts, agents *agent.Service, emitter *stream.Emitter) *Runner {
	return &Runner{cfg: cfg, prompts: prompts, agents: agents, emitter: emitter}
}

// Run executes all configured rounds for task and returns the final summary
// as the task result. Cancellation between stages yields the cancelled
// sentinel; a summary-call failure is returned as an error for the caller's
// failure handling.
func (r *Runner) Run(ctx context.Context, runID, userMessage string, task models.Task,
	requiresEdits bool, baseContext string, workers TaskRunner) (models.WorkerResult, error) {

	if r.emitter.IsCancelled(runID) {
		return r.cancelledResult(runID, task), nil
	}

	exec := r.cfg.RoleExecution(task.Role)
	rounds := exec.Rounds
	if rounds < 1 {
		rounds = 1
	}
	agents := exec.Agents
	if agents < 1 {
		agents = 1
	}
	strategy := ParseStrategy(exec.Strategy)
	stages := StagesFor(strategy)

	if requiresEdits && task.Role == models.RoleImplementer && !anyStageAllowsEdits(stages) {
		log.Printf("[collab] strategy %s for role %s does not allow file edits; outputs will be advisory only",
			strategy, task.Role)
	}

	rollingContext := baseContext
	finalSummary := ""
	for round := 1; round <= rounds; round++ {
		if r.emitter.IsCancelled(runID) {
			return r.cancelledResult(runID, task), nil
		}
		for stageIndex, stage := range stages {
			if r.emitter.IsCancelled(runID) {
				return r.cancelledResult(runID, task), nil
			}
			finalStage := stageIndex == len(stages)-1
			roundContext := planner.MergeContexts(baseContext, rollingContext)
			stageRequiresEdits := requiresEdits && stage.AllowEdits

			subTasks := make([]models.Task, 0, agents)
			for agentIndex := 1; agentIndex <= agents; agentIndex++ {
				id := fmt.Sprintf("%s-r%d-a%d-%s", task.ID, round, agentIndex, stage.Key)
				subTasks = append(subTasks, models.Task{
					ID:   id,
					Role: task.Role,
					Description: fmt.Sprintf("%s (Round %d, agent %d, stage %s)",
						task.Description, round, agentIndex, stage.Label),
					ExpectedOutput: stage.ExpectedOutput(id, task.ExpectedOutput),
				})
			}

			results := make([]models.WorkerResult, len(subTasks))
			var wg sync.WaitGroup
			for i, subTask := range subTasks {
				r.emitter.TaskStart(runID, subTask)
				wg.Add(1)
				go func(i int, subTask models.Task) {
					defer wg.Done()
					results[i] = workers.RunSubTask(ctx, runID, subTask, stageRequiresEdits, roundContext)
				}(i, subTask)
			}
			wg.Wait()

			if r.emitter.IsCancelled(runID) {
				return r.cancelledResult(runID, task), nil
			}

			summary, err := r.summarizeStage(ctx, userMessage, task, round, stage, strategy, finalStage, results)
			if err != nil {
				return models.WorkerResult{}, err
			}
			finalSummary = summary
			rollingContext = planner.MergeContexts(rollingContext, summary)
			r.emitStageSummary(runID, task, round, stage, summary)
		}
	}

	finalResult := models.WorkerResult{TaskID: task.ID, Role: task.Role, Output: finalSummary}
	r.emitter.TaskOutput(runID, finalResult)
	r.emitter.TaskComplete(runID, finalResult)
	return finalResult, nil
}

// summarizeStage folds one stage's agent outputs into a summary via a
// synthesis-phase invocation.
func (r *Runner) summarizeStage(ctx context.Context, userMessage string, task models.Task,
	round int, stage Stage, strategy Strategy, finalStage bool, results []models.WorkerResult) (string, error) {

	system := r.prompts.CollaborationSystem(task.Role, strategy.Label(), stage.SummaryInstruction, finalStage)
	prompt := collaborationUser(userMessage, task, round, strategy, stage, results)
	outcome, err := r.agents.Run(ctx, agent.Invocation{
		Phase:  tools.PhaseSynthesis,
		Role:   task.Role,
		TaskID: fmt.Sprintf("%s-r%d-%s-summary", task.ID, round, stage.Key),
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("collaboration summary for %s: %w", task.ID, err)
	}
	return outcome.Output, nil
}

// emitStageSummary surfaces the stage summary as a pseudo-task so stream
// subscribers see the intermediate consensus.
func (r *Runner) emitStageSummary(runID string, task models.Task, round int, stage Stage, summary string) {
	summaryTask := models.Task{
		ID:             fmt.Sprintf("%s-r%d-%s-summary", task.ID, round, stage.Key),
		Role:           task.Role,
		Description:    fmt.Sprintf("Collaboration summary for round %d (%s)", round, stage.Label),
		ExpectedOutput: "Summarize best findings.",
	}
	summaryResult := models.WorkerResult{TaskID: summaryTask.ID, Role: summaryTask.Role, Output: summary}
	r.emitter.TaskStart(runID, summaryTask)
	r.emitter.TaskOutput(runID, summaryResult)
	r.emitter.TaskComplete(runID, summaryResult)
}

func (r *Runner) cancelledResult(runID string, task models.Task) models.WorkerResult {
	result := models.WorkerResult{TaskID: task.ID, Role: task.Role, Output: models.CancelledOutput}
	r.emitter.TaskOutput(runID, result)
	r.emitter.TaskComplete(runID, result)
	return result
}

func anyStageAllowsEdits(stages []Stage) bool {
	for _, stage := range stages {
		if stage.AllowEdits {
			return true
		}
	}
	return false
}

// collaborationUser renders the stage-summary user prompt.
func collaborationUser(userMessage string, task models.Task, round int,
	strategy Strategy, stage Stage, results []models.WorkerResult) string {

	return fmt.Sprintf(
		"User request:\n%s\n\nTask:\n%s\n\nRound:\n%d\n\nStrategy:\n%s\n\nStage:\n%s\n\nAgent outputs:\n%s",
		userMessage, task.Description, round, strategy.Label(), stage.Label, planner.ToJSON(results))
}
