package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/bko/agentmux/internal/agent"
	"github.com/bko/agentmux/internal/collab"
	"github.com/bko/agentmux/internal/planner"
	"github.com/bko/agentmux/internal/tools"
	"github.com/bko/agentmux/pkg/models"
)

// maxToolCallAttempts bounds the mandatory-tool-call retries: the initial
// call plus one corrective retry.
const maxToolCallAttempts = 2

const defaultWorkerTimeout = 90 * time.Second

// Corrective instructions appended to the system prompt when a worker turn
// skipped tool calls it was required to make.
const (
	retryToolCallsPrompt = "Your last response did not call any filesystem tools. Tool calls are required for this task.\n" +
		"Use list_directory/read_file to inspect the repository, then return your findings.\n"

	retryImplementerToolsPrompt = "Your last response did not call any filesystem tools. Tool calls are mandatory for this task.\n" +
		"Use the filesystem tools to read and write files, then respond with a concise summary of changes and next steps.\n"

	retryImplementerWritePrompt = "Your last response did not call the write_file tool. File edits are mandatory for implementer tasks.\n" +
		"You must call write_file to apply the changes, then respond with a concise summary and next steps.\n"
)

// workerRun describes one worker turn.
type workerRun struct {
	task                 models.Task
	requiresEdits        bool
	context              string
	includeHandoffSchema bool
	requireToolCalls     bool
}

// runScope binds one orchestration run: its stream, its persistence session,
// and the originating user message. All execution flows through it.
type runScope struct {
	o           *Orchestrator
	runID       string
	sessionID   string
	userMessage string
}

var _ collab.TaskRunner = (*runScope)(nil)

func (s *runScope) cancelled() bool {
	return s.o.emitter.IsCancelled(s.runID)
}

// dispatch runs one worker turn through the shared pool with the per-task
// timeout applied. The failure sentinel replaces errors so one task never
// aborts its siblings.
func (s *runScope) dispatch(ctx context.Context, w workerRun) models.WorkerResult {
	select {
	case s.o.pool <- struct{}{}:
	case <-ctx.Done():
		return s.failedResult(w.task, ctx.Err().Error())
	}
	defer func() { <-s.o.pool }()

	timeout := s.o.cfg.Orchestration.WorkerTimeout
	if timeout <= 0 {
		timeout = defaultWorkerTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.runWorker(taskCtx, w)
}

// RunSubTask executes one collaboration sub-task through the pool.
func (s *runScope) RunSubTask(ctx context.Context, _ string, task models.Task, requiresEdits bool, taskContext string) models.WorkerResult {
	return s.dispatch(ctx, workerRun{task: task, requiresEdits: requiresEdits, context: taskContext})
}

// runWorker executes one worker turn, enforcing the mandatory-tool-call
// retries before accepting the output.
func (s *runScope) runWorker(ctx context.Context, w workerRun) models.WorkerResult {
	if s.cancelled() {
		return s.cancelledResult(w.task)
	}
	taskContext := planner.DefaultContext(w.context)
	system := s.o.prompts.WorkerSystem(w.task.Role, w.requiresEdits, w.includeHandoffSchema)
	prompt := planner.WorkerUser(s.userMessage, taskContext, w.task)

	outcome, err := s.invoke(ctx, w.task, system, prompt)

	implementer := w.requiresEdits && w.task.Role == models.RoleImplementer
	// One corrective retry covers the missing-tool-call condition whichever
	// rule triggered it, so an implementer turn that also requires tool calls
	// stays within the attempt cap instead of stacking both loops.
	if err == nil && outcome.CallCount == 0 && (w.requireToolCalls || implementer) {
		instruction := retryToolCallsPrompt
		if implementer {
			instruction = retryImplementerToolsPrompt
		}
		outcome, err = s.retryWorker(ctx, w.task, system, prompt, instruction,
			func(out agent.Outcome) bool { return out.CallCount > 0 })
		if err == nil && outcome.CallCount == 0 {
			log.Printf("[orchestrator] task %s returned without tool calls after %d attempts",
				w.task.ID, maxToolCallAttempts)
		}
	}
	if err == nil && implementer && outcome.WriteCount == 0 {
		outcome, err = s.retryWorker(ctx, w.task, system, prompt, retryImplementerWritePrompt,
			func(out agent.Outcome) bool { return out.WriteCount > 0 })
		if err == nil && outcome.WriteCount == 0 {
			log.Printf("[orchestrator] implementer task %s returned without write_file calls after %d attempts",
				w.task.ID, maxToolCallAttempts)
		}
	}
	if err != nil {
		return s.failedResult(w.task, err.Error())
	}

	result := models.WorkerResult{TaskID: w.task.ID, Role: w.task.Role, Output: outcome.Output}
	s.o.emitter.TaskOutput(s.runID, result)
	s.o.emitter.TaskComplete(s.runID, result)
	s.o.store.LogPrompt(s.sessionID, "worker-task", w.task.Role, system, prompt, outcome.Output)
	s.o.store.LogWorkerResult(s.sessionID, result)
	return result
}

// retryWorker reissues the worker turn with a corrective instruction until
// the outcome satisfies done or the attempts are exhausted. The last outcome
// is kept either way.
func (s *runScope) retryWorker(ctx context.Context, task models.Task, system, prompt, instruction string,
	done func(agent.Outcome) bool) (agent.Outcome, error) {

	var outcome agent.Outcome
	var err error
	for attempts := 1; attempts < maxToolCallAttempts; attempts++ {
		outcome, err = s.invoke(ctx, task, system+"\n\n"+instruction, prompt)
		if err != nil || done(outcome) {
			break
		}
	}
	return outcome, err
}

// invoke issues one worker-phase model call and logs its tool calls.
func (s *runScope) invoke(ctx context.Context, task models.Task, system, prompt string) (agent.Outcome, error) {
	s.o.metrics.RecordLLMRequest("worker-task")
	outcome, err := s.o.agents.Run(ctx, agent.Invocation{
		Phase:  tools.PhaseWorker,
		Role:   task.Role,
		TaskID: task.ID,
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return outcome, err
	}
	for _, record := range outcome.ToolCalls {
		s.o.store.LogToolCall(s.sessionID, task.ID, task.Role, record.Name, record.Input, record.Output)
	}
	return outcome, nil
}

// runCollaborative executes one plan task through the collaboration rounds
// configured for its role.
func (s *runScope) runCollaborative(ctx context.Context, task models.Task, requiresEdits bool, taskContext string) models.WorkerResult {
	result, err := s.o.collab.Run(ctx, s.runID, s.userMessage, task, requiresEdits, taskContext, s)
	if err != nil {
		return s.failedResult(task, err.Error())
	}
	s.o.store.LogWorkerResult(s.sessionID, result)
	return result
}

func (s *runScope) failedResult(task models.Task, reason string) models.WorkerResult {
	result := models.WorkerResult{TaskID: task.ID, Role: task.Role, Output: models.WorkerFailedPrefix + reason}
	s.o.emitter.TaskOutput(s.runID, result)
	s.o.emitter.TaskComplete(s.runID, result)
	s.o.store.LogWorkerResult(s.sessionID, result)
	return result
}

func (s *runScope) cancelledResult(task models.Task) models.WorkerResult {
	result := models.WorkerResult{TaskID: task.ID, Role: task.Role, Output: models.CancelledOutput}
	s.o.emitter.TaskOutput(s.runID, result)
	s.o.emitter.TaskComplete(s.runID, result)
	return result
}
