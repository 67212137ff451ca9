// Package models defines the shared value types used across the
// orchestration engine: tasks, plans, worker results, and roles.
package models

// Task is a single unit of work assigned to one worker role.
// Tasks are immutable values; a retry produces a new Task with the same ID.
type Task struct {
	// ID identifies the task within its plan (e.g. "task-1", "task-impl").
	ID string `json:"id"`
	// Role is the normalized worker role responsible for the task.
	Role string `json:"role"`
	// Description is the instruction given to the worker.
	Description string `json:"description"`
	// ExpectedOutput describes the shape of the output the worker must return.
	ExpectedOutput string `json:"expectedOutput"`
}

// Plan is an ordered set of tasks produced by the planner and executed by
// the scheduler. A Plan coming out of an LLM is untrusted until it has been
// passed through planner.SanitizePlan.
type Plan struct {
	Objective string `json:"objective"`
	Tasks     []Task `json:"tasks"`
}

// IsEmpty reports whether the plan carries no tasks. An empty continuation
// plan means the work is complete.
func (p Plan) IsEmpty() bool {
	return len(p.Tasks) == 0
}

// Output sentinels. Failed and cancelled executions are encoded as sentinel
// output strings rather than errors so a single task failure never aborts
// its siblings.
const (
	// WorkerFailedPrefix starts the output of a task that failed or timed
	// out; the remainder of the output is the reason.
	WorkerFailedPrefix = "Worker failed: "
	// CancelledOutput is the output recorded for a task skipped because its
	// run was cancelled.
	CancelledOutput = "Cancelled."
)

// WorkerResult is the output of one task execution.
type WorkerResult struct {
	TaskID string `json:"taskId"`
	Role   string `json:"role"`
	Output string `json:"output"`
}

// FailureDetail correlates a failed WorkerResult back to its originating
// task. It is derived each iteration, never stored.
type FailureDetail struct {
	Task   Task
	Reason string
}

// RoleSelection is the parsed response of a role-selection call.
type RoleSelection struct {
	Roles []string `json:"roles"`
}

// Result is the final outcome of one orchestration: the accumulated plan,
// every worker result, and the synthesized answer.
type Result struct {
	Plan        Plan           `json:"plan"`
	Results     []WorkerResult `json:"workerResults"`
	FinalAnswer string         `json:"finalAnswer"`
}
