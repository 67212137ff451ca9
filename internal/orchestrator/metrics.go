package orchestrator

import (
	"fmt"
	"sync/atomic"
)

// Sink receives orchestration counters. Implementations must be safe for
// concurrent use; workers report from the pool goroutines.
type Sink interface {
	RecordLLMRequest(purpose string)
	RecordPlanResponse(label string, taskCount int)
	RecordTasksExecuted(count int)
	RecordApprovedTasksExecuted(count int)
}

// Recorder is the default Sink: atomic counters with a loggable summary.
type Recorder struct {
	llmRequests   atomic.Int64
	planResponses atomic.Int64
	tasksReceived atomic.Int64
	tasksExecuted atomic.Int64
	approvedTasks atomic.Int64
}

var _ Sink = (*Recorder)(nil)

// NewRecorder creates a zeroed Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) RecordLLMRequest(string) {
	r.llmRequests.Add(1)
}

func (r *Recorder) RecordPlanResponse(_ string, taskCount int) {
	r.planResponses.Add(1)
	r.tasksReceived.Add(int64(taskCount))
}

func (r *Recorder) RecordTasksExecuted(count int) {
	r.tasksExecuted.Add(int64(count))
}

func (r *Recorder) RecordApprovedTasksExecuted(count int) {
	r.tasksExecuted.Add(int64(count))
	r.approvedTasks.Add(int64(count))
}

// Summary renders the counters for the end-of-run log line.
func (r *Recorder) Summary() string {
	return fmt.Sprintf("requests=%d plans=%d tasksReceived=%d tasksExecuted=%d approvedTasks=%d",
		r.llmRequests.Load(), r.planResponses.Load(), r.tasksReceived.Load(),
		r.tasksExecuted.Load(), r.approvedTasks.Load())
}
