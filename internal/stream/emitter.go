package stream

import (
	"unicode/utf8"

	"github.com/bko/agentmux/pkg/models"
)

// chunkSize bounds the payload of a single task-output event.
const chunkSize = 600

// Emitter shapes orchestration progress into typed hub events. Every method
// is a no-op when runID is empty, so non-streaming runs pass "" and skip
// event plumbing entirely.
type Emitter struct {
	hub *Hub
}

// NewEmitter creates an Emitter over hub.
func NewEmitter(hub *Hub) *Emitter {
	return &Emitter{hub: hub}
}

// CreateRun registers a new run with the hub.
func (e *Emitter) CreateRun() string {
	return e.hub.CreateRun()
}

// Hub exposes the underlying hub for subscription handling.
func (e *Emitter) Hub() *Hub {
	return e.hub
}

// CancelRun cancels a run through the hub.
func (e *Emitter) CancelRun(runID string) bool {
	return runID != "" && e.hub.CancelRun(runID)
}

// IsCancelled reports whether the run was cancelled. Empty run ids are never
// cancelled.
func (e *Emitter) IsCancelled(runID string) bool {
	return runID != "" && e.hub.IsCancelled(runID)
}

// Status emits a progress message.
func (e *Emitter) Status(runID, message string) {
	if runID == "" {
		return
	}
	e.hub.Emit(runID, EventStatus, map[string]any{"message": message})
}

// Plan emits the initial sanitized plan.
func (e *Emitter) Plan(runID string, plan models.Plan) {
	if runID == "" {
		return
	}
	e.hub.Emit(runID, EventPlan, plan)
}

// PlanUpdate emits a continuation or retry plan.
func (e *Emitter) PlanUpdate(runID string, plan models.Plan) {
	if runID == "" {
		return
	}
	e.hub.Emit(runID, EventPlanUpdate, plan)
}

// TaskStart emits the start of one task.
func (e *Emitter) TaskStart(runID string, task models.Task) {
	if runID == "" {
		return
	}
	e.hub.Emit(runID, EventTaskStart, map[string]any{
		"taskId":         task.ID,
		"role":           task.Role,
		"description":    task.Description,
		"expectedOutput": task.ExpectedOutput,
	})
}

// TaskOutput emits a worker result as a sequence of bounded chunks. The last
// chunk carries done=true; an empty output becomes a single empty done
// chunk so subscribers always see a terminator.
func (e *Emitter) TaskOutput(runID string, result models.WorkerResult) {
	if runID == "" {
		return
	}
	output := result.Output
	if output == "" {
		e.hub.Emit(runID, EventTaskOutput, map[string]any{
			"taskId":   result.TaskID,
			"role":     result.Role,
			"chunk":    "",
			"sequence": 0,
			"done":     true,
		})
		return
	}
	sequence := 0
	for index := 0; index < len(output); {
		end := index + chunkSize
		if end >= len(output) {
			end = len(output)
		} else {
			// Never split a multi-byte rune across chunks.
			for end > index && !utf8.RuneStart(output[end]) {
				end--
			}
			if end == index {
				end = index + chunkSize
			}
		}
		e.hub.Emit(runID, EventTaskOutput, map[string]any{
			"taskId":   result.TaskID,
			"role":     result.Role,
			"chunk":    output[index:end],
			"sequence": sequence,
			"done":     end >= len(output),
		})
		sequence++
		index = end
	}
}

// TaskComplete emits the completion of one task.
func (e *Emitter) TaskComplete(runID string, result models.WorkerResult) {
	if runID == "" {
		return
	}
	e.hub.Emit(runID, EventTaskComplete, map[string]any{
		"taskId": result.TaskID,
		"role":   result.Role,
	})
}

// FinalAnswer emits the synthesized answer.
func (e *Emitter) FinalAnswer(runID, finalAnswer string) {
	if runID == "" {
		return
	}
	e.hub.Emit(runID, EventFinal, map[string]any{"finalAnswer": finalAnswer})
}

// RunComplete emits the terminal success event and completes the run.
func (e *Emitter) RunComplete(runID, status string) {
	if runID == "" {
		return
	}
	e.hub.Emit(runID, EventRunComplete, map[string]any{"status": status})
}

// Error emits the terminal error event and completes the run.
func (e *Emitter) Error(runID, message string) {
	if runID == "" {
		return
	}
	e.hub.Emit(runID, EventError, map[string]any{"message": message})
}
