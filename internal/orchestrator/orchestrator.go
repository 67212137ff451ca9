// Package orchestrator drives a full orchestration run: role selection,
// workspace discovery, advisory rounds, plan iterations with tiered
// execution, and final synthesis. Failures are isolated per task; a run only
// errors when synthesis itself fails.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/bko/agentmux/internal/agent"
	"github.com/bko/agentmux/internal/collab"
	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/internal/planner"
	"github.com/bko/agentmux/internal/store"
	"github.com/bko/agentmux/internal/stream"
	"github.com/bko/agentmux/internal/tools"
	"github.com/bko/agentmux/pkg/models"
)

// Orchestrator owns the shared worker pool and the per-run control loop.
type Orchestrator struct {
	cfg     *config.Config
	agents  *agent.Service
	planner *planner.Planner
	prompts *planner.Prompts
	collab  *collab.Runner
	emitter *stream.Emitter
	store   *store.Store
	metrics Sink
	pool    chan struct{}
}

// New wires an Orchestrator. A nil store disables persistence; a nil metrics
// sink gets a fresh Recorder.
func New(cfg *config.Config, agents *agent.Service, emitter *stream.Emitter, st *store.Store, metrics Sink) *Orchestrator {
	if metrics == nil {
		metrics = NewRecorder()
	}
	concurrency := cfg.Orchestration.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	pl := planner.New(agents, cfg)
	return &Orchestrator{
		cfg:     cfg,
		agents:  agents,
		planner: pl,
		prompts: pl.Prompts(),
		collab:  collab.NewRunner(cfg, pl.Prompts(), agents, emitter),
		emitter: emitter,
		store:   st,
		metrics: metrics,
		pool:    make(chan struct{}, concurrency),
	}
}

// Orchestrate runs the full control loop without streaming.
func (o *Orchestrator) Orchestrate(ctx context.Context, userMessage string) (models.Result, error) {
	return o.run(ctx, "", userMessage)
}

// OrchestrateStreaming runs the full control loop, emitting progress to the
// given run.
func (o *Orchestrator) OrchestrateStreaming(ctx context.Context, runID, userMessage string) (models.Result, error) {
	return o.run(ctx, runID, userMessage)
}

// Plan produces a sanitized plan without executing it. The returned id
// identifies the stored plan for later approved execution.
func (o *Orchestrator) Plan(ctx context.Context, userMessage string) (models.Plan, string) {
	requiresEdits := planner.RequiresFileEdits(userMessage)
	roles := o.planner.SelectRoles(ctx, userMessage, requiresEdits, "")
	plan := o.planner.RequestPlan(ctx, userMessage, requiresEdits, roles, "", false, false)
	o.metrics.RecordPlanResponse("plan", len(plan.Tasks))
	sessionID := o.store.StartSession(userMessage, o.cfg.Anthropic.Model)
	planID := o.store.LogPlan(sessionID, plan, true)
	o.store.CompleteSession(sessionID, "", "planned")
	return plan, planID
}

// ExecuteApprovedPlan executes a previously produced plan directly: advisory
// tasks in parallel, implementer tasks sequentially last, then synthesis.
func (o *Orchestrator) ExecuteApprovedPlan(ctx context.Context, runID, userMessage string, plan models.Plan) (models.Result, error) {
	requiresEdits := planner.RequiresFileEdits(userMessage)
	sessionID := o.store.StartSession(userMessage, o.cfg.Anthropic.Model)
	scope := &runScope{o: o, runID: runID, sessionID: sessionID, userMessage: userMessage}

	o.emitter.Plan(runID, plan)
	results := scope.executeApprovedPlanTasks(ctx, plan.Tasks, requiresEdits)
	if scope.cancelled() {
		return o.finishCancelled(scope, plan, results)
	}
	finalAnswer, err := scope.synthesize(ctx, plan, results)
	if err != nil {
		o.emitter.Error(runID, err.Error())
		o.emitter.RunComplete(runID, "FAILED")
		o.store.CompleteSession(sessionID, "", "failed")
		return models.Result{}, err
	}
	o.emitter.FinalAnswer(runID, finalAnswer)
	o.emitter.RunComplete(runID, "COMPLETED")
	o.store.CompleteSession(sessionID, finalAnswer, "completed")
	return models.Result{Plan: plan, Results: results, FinalAnswer: finalAnswer}, nil
}

func (o *Orchestrator) run(ctx context.Context, runID, userMessage string) (models.Result, error) {
	requiresEdits := planner.RequiresFileEdits(userMessage)
	sessionID := o.store.StartSession(userMessage, o.cfg.Anthropic.Model)
	scope := &runScope{o: o, runID: runID, sessionID: sessionID, userMessage: userMessage}

	o.emitter.Status(runID, "Selecting roles")
	selectedRoles := o.planner.SelectRoles(ctx, userMessage, requiresEdits, "")

	o.emitter.Status(runID, "Surveying workspace")
	discoveryTask := o.planner.DiscoveryTask()
	o.emitter.TaskStart(runID, discoveryTask)
	discoveryResult := scope.dispatch(ctx, workerRun{task: discoveryTask, requireToolCalls: true})

	allTasks := []models.Task{discoveryTask}
	allResults := []models.WorkerResult{discoveryResult}
	baseContext := planner.BuildResultsContext(allResults)

	if analysisTask, ok := o.planner.AnalysisTask(selectedRoles); ok {
		o.emitter.TaskStart(runID, analysisTask)
		result := scope.runCollaborative(ctx, analysisTask, requiresEdits, baseContext)
		allTasks = append(allTasks, analysisTask)
		allResults = append(allResults, result)
	}
	if designTask, ok := o.planner.DesignTask(selectedRoles); ok {
		o.emitter.TaskStart(runID, designTask)
		designContext := planner.MergeContexts(baseContext, planner.BuildAdvisoryContext(allResults))
		result := scope.dispatch(ctx, workerRun{task: designTask, requiresEdits: requiresEdits, context: designContext})
		allTasks = append(allTasks, designTask)
		allResults = append(allResults, result)
	}
	baseContext = planner.MergeContexts(baseContext, planner.BuildAdvisoryContext(allResults))

	contextTask := o.planner.ContextSyncTask(selectedRoles)
	o.emitter.TaskStart(runID, contextTask)
	contextResult := scope.dispatch(ctx, workerRun{task: contextTask, context: baseContext})
	allTasks = append(allTasks, contextTask)
	allResults = append(allResults, contextResult)
	baseContext = planner.MergeContexts(baseContext,
		planner.BuildResultsContext([]models.WorkerResult{contextResult}))

	if scope.cancelled() {
		return o.finishCancelled(scope, models.Plan{Objective: userMessage, Tasks: allTasks}, allResults)
	}

	o.emitter.Status(runID, "Planning")
	executionRoles := o.planner.SelectRoles(ctx, userMessage, requiresEdits, baseContext)
	initialPlan := o.planner.RequestPlan(ctx, userMessage, requiresEdits, executionRoles, baseContext, true, false)
	o.metrics.RecordPlanResponse("plan", len(initialPlan.Tasks))
	o.store.LogPlan(sessionID, initialPlan, true)
	o.emitter.Plan(runID, initialPlan)

	maxIterations := o.cfg.Orchestration.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}
	currentPlan := initialPlan
	for iteration := 0; iteration < maxIterations && !currentPlan.IsEmpty(); iteration++ {
		if scope.cancelled() {
			break
		}
		log.Printf("[orchestrator] executing plan iteration %d with %d tasks",
			iteration+1, len(currentPlan.Tasks))
		iterationResults := scope.executePlanTasks(ctx, currentPlan.Tasks, requiresEdits, allResults)
		allResults = append(allResults, iterationResults...)
		allTasks = append(allTasks, currentPlan.Tasks...)

		failures := planner.CollectFailures(iterationResults, currentPlan.Tasks)
		errorSummary := planner.BuildErrorSummary(failures)
		continuation := o.planner.RequestContinuationPlan(ctx, userMessage, requiresEdits, executionRoles,
			baseContext, errorSummary, currentPlan, allResults, true, true)
		o.metrics.RecordPlanResponse("plan-review", len(continuation.Tasks))
		if continuation.IsEmpty() && len(failures) > 0 && iteration+1 < maxIterations {
			continuation = planner.BuildRetryPlan(currentPlan.Objective, failures)
			log.Printf("[orchestrator] retrying %d failed tasks", len(continuation.Tasks))
		}
		if continuation.IsEmpty() {
			break
		}
		o.store.LogPlan(sessionID, continuation, false)
		o.emitter.PlanUpdate(runID, continuation)
		currentPlan = continuation
	}

	objective := initialPlan.Objective
	if strings.TrimSpace(objective) == "" {
		objective = userMessage
	}
	finalPlan := models.Plan{Objective: objective, Tasks: allTasks}
	if scope.cancelled() {
		return o.finishCancelled(scope, finalPlan, allResults)
	}

	o.emitter.Status(runID, "Synthesizing")
	finalAnswer, err := scope.synthesize(ctx, finalPlan, allResults)
	if err != nil {
		o.emitter.Error(runID, err.Error())
		o.emitter.RunComplete(runID, "FAILED")
		o.store.CompleteSession(sessionID, "", "failed")
		return models.Result{}, err
	}
	o.emitter.FinalAnswer(runID, finalAnswer)
	o.emitter.RunComplete(runID, "COMPLETED")
	o.store.CompleteSession(sessionID, finalAnswer, "completed")
	o.logSummary()
	return models.Result{Plan: finalPlan, Results: allResults, FinalAnswer: finalAnswer}, nil
}

func (o *Orchestrator) finishCancelled(scope *runScope, plan models.Plan, results []models.WorkerResult) (models.Result, error) {
	o.store.CompleteSession(scope.sessionID, "", "cancelled")
	return models.Result{Plan: plan, Results: results}, nil
}

func (o *Orchestrator) logSummary() {
	if recorder, ok := o.metrics.(*Recorder); ok {
		log.Printf("[orchestrator] run stats: %s", recorder.Summary())
	}
}

// executePlanTasks runs one plan iteration. When edits are required the
// tasks run in tiers: engineering sequentially with context chaining, the
// rest in parallel over the shared context, implementer sequentially last
// over everything produced so far. Otherwise all tasks run in parallel.
func (s *runScope) executePlanTasks(ctx context.Context, tasks []models.Task, requiresEdits bool,
	priorResults []models.WorkerResult) []models.WorkerResult {

	if len(tasks) == 0 || s.cancelled() {
		return nil
	}
	contextAlreadyRun := false
	for _, result := range priorResults {
		if strings.EqualFold(result.TaskID, planner.TaskIDContext) {
			contextAlreadyRun = true
			break
		}
	}
	effective := tasks
	if contextAlreadyRun {
		effective = make([]models.Task, 0, len(tasks))
		for _, task := range tasks {
			if strings.EqualFold(task.ID, planner.TaskIDContext) {
				continue
			}
			effective = append(effective, task)
		}
	}
	if len(effective) == 0 {
		return nil
	}
	s.o.metrics.RecordTasksExecuted(len(effective))

	if !requiresEdits {
		shared := planner.BuildResultsContext(priorResults)
		return s.runParallel(ctx, effective, false, shared)
	}

	var engineering, implementer, others []models.Task
	for _, task := range effective {
		switch task.Role {
		case models.RoleEngineering:
			engineering = append(engineering, task)
		case models.RoleImplementer:
			implementer = append(implementer, task)
		default:
			others = append(others, task)
		}
	}

	results := make([]models.WorkerResult, 0, len(effective))
	sharedContext := planner.BuildResultsContext(priorResults)
	engineeringContext := planner.BuildResultsContext(
		planner.FilterResultsByRole(priorResults, map[string]bool{models.RoleEngineering: true}))

	for _, task := range engineering {
		if s.cancelled() {
			return results
		}
		s.o.emitter.TaskStart(s.runID, task)
		result := s.runCollaborative(ctx, task, true, engineeringContext)
		results = append(results, result)
		engineeringContext = planner.MergeContexts(engineeringContext,
			planner.BuildResultsContext([]models.WorkerResult{result}))
	}

	if len(others) > 0 {
		if s.cancelled() {
			return results
		}
		discussionContext := planner.MergeContexts(sharedContext, planner.BuildResultsContext(results))
		results = append(results, s.runParallel(ctx, others, true, discussionContext)...)
	}

	if len(implementer) == 0 {
		return results
	}
	implementationContext := planner.MergeContexts(sharedContext, planner.BuildResultsContext(results))
	for _, task := range implementer {
		if s.cancelled() {
			return results
		}
		s.o.emitter.TaskStart(s.runID, task)
		result := s.runCollaborative(ctx, task, true, implementationContext)
		results = append(results, result)
		implementationContext = planner.MergeContexts(implementationContext,
			planner.BuildResultsContext([]models.WorkerResult{result}))
	}
	return results
}

// runParallel fans collaborative tasks out concurrently over one shared
// context and joins them in task order.
func (s *runScope) runParallel(ctx context.Context, tasks []models.Task, requiresEdits bool, taskContext string) []models.WorkerResult {
	results := make([]models.WorkerResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		s.o.emitter.TaskStart(s.runID, task)
		wg.Add(1)
		go func(i int, task models.Task) {
			defer wg.Done()
			results[i] = s.runCollaborative(ctx, task, requiresEdits, taskContext)
		}(i, task)
	}
	wg.Wait()
	return results
}

// executeApprovedPlanTasks runs a stored plan directly: reserved synthetic
// tasks are skipped, non-implementer tasks run in parallel without edit
// privileges, implementer tasks run sequentially last with context chaining.
func (s *runScope) executeApprovedPlanTasks(ctx context.Context, tasks []models.Task, requiresEdits bool) []models.WorkerResult {
	if len(tasks) == 0 || s.cancelled() {
		return nil
	}
	effective := make([]models.Task, 0, len(tasks))
	for _, task := range tasks {
		if strings.EqualFold(task.ID, planner.TaskIDContext) || strings.EqualFold(task.ID, planner.TaskIDDiscovery) {
			continue
		}
		effective = append(effective, task)
	}
	if len(effective) == 0 {
		return nil
	}
	s.o.metrics.RecordApprovedTasksExecuted(len(effective))

	var implementer, advisory []models.Task
	for _, task := range effective {
		if task.Role == models.RoleImplementer {
			implementer = append(implementer, task)
		} else {
			advisory = append(advisory, task)
		}
	}

	results := make([]models.WorkerResult, 0, len(effective))
	if len(advisory) > 0 {
		if s.cancelled() {
			return results
		}
		parallel := make([]models.WorkerResult, len(advisory))
		var wg sync.WaitGroup
		for i, task := range advisory {
			s.o.emitter.TaskStart(s.runID, task)
			wg.Add(1)
			go func(i int, task models.Task) {
				defer wg.Done()
				parallel[i] = s.dispatch(ctx, workerRun{task: task})
			}(i, task)
		}
		wg.Wait()
		results = append(results, parallel...)
	}

	implementationContext := planner.BuildResultsContext(results)
	for _, task := range implementer {
		if s.cancelled() {
			return results
		}
		s.o.emitter.TaskStart(s.runID, task)
		result := s.dispatch(ctx, workerRun{task: task, requiresEdits: requiresEdits, context: implementationContext})
		results = append(results, result)
		implementationContext = planner.MergeContexts(implementationContext,
			planner.BuildResultsContext([]models.WorkerResult{result}))
	}
	return results
}

// synthesize folds all worker outputs into the final answer. A single
// non-advisory result is returned as-is without a synthesis call.
func (s *runScope) synthesize(ctx context.Context, plan models.Plan, results []models.WorkerResult) (string, error) {
	if len(results) == 1 && !models.IsAdvisory(results[0].Role) {
		return results[0].Output, nil
	}
	system := s.o.prompts.SynthesisSystem()
	prompt := planner.SynthesisUser(s.userMessage, planner.ToJSON(plan), planner.ToJSON(results))
	s.o.metrics.RecordLLMRequest("synthesis")
	outcome, err := s.o.agents.Run(ctx, agent.Invocation{
		Phase:  tools.PhaseSynthesis,
		TaskID: "synthesis",
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("synthesis: %w", err)
	}
	s.o.store.LogPrompt(s.sessionID, "synthesis", "", system, prompt, outcome.Output)
	return outcome.Output, nil
}
