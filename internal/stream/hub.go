// Package stream implements the real-time event hub for orchestration runs:
// per-run sequenced event buffers with replay, subscriber fan-out,
// cooperative cancellation, and TTL cleanup of finished runs.
package stream

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one sequenced run event. IDs start at 1 and increase without gaps
// within a run.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Data      any       `json:"data"`
}

// Event types emitted over a run stream.
const (
	EventStatus       = "status"
	EventPlan         = "plan"
	EventPlanUpdate   = "plan-update"
	EventTaskStart    = "task-start"
	EventTaskOutput   = "task-output"
	EventTaskComplete = "task-complete"
	EventFinal        = "final"
	EventRunComplete  = "run-complete"
	EventRunCancel    = "run-cancel"
	EventError        = "error"
)

// Conn is a subscriber connection. Send is invoked with the run lock held so
// every subscriber observes events in exact id order with no gaps or
// duplicates; implementations must return promptly and must not call back
// into the hub. A failed send only affects that subscriber.
type Conn interface {
	Send(event Event) error
}

// Defaults for the hub constructor.
const (
	DefaultBufferSize = 500
	DefaultRunTTL     = 30 * time.Minute
)

type run struct {
	id          string
	mu          sync.Mutex
	seq         int64
	buffer      []Event
	conns       map[Conn]struct{}
	completed   bool
	cancelled   bool
	lastUpdated time.Time
}

// emitLocked appends one sequenced event and fans it out to the attached
// connections. The caller must hold r.mu; holding it across the fan-out is
// what keeps replay and live delivery gap-free for joining subscribers.
func (r *run) emitLocked(eventType string, data any, maxBuffer int) {
	r.seq++
	event := Event{ID: r.seq, Timestamp: time.Now(), Type: eventType, Data: data}
	r.buffer = append(r.buffer, event)
	if len(r.buffer) > maxBuffer {
		r.buffer = r.buffer[1:]
	}
	r.lastUpdated = time.Now()
	for conn := range r.conns {
		if err := conn.Send(event); err != nil {
			log.Printf("[stream] send failed for run %s: %v", r.id, err)
		}
	}
}

// Hub tracks active runs and fans events out to their subscribers.
type Hub struct {
	mu         sync.RWMutex
	runs       map[string]*run
	bufferSize int
	ttl        time.Duration
}

// NewHub creates a Hub. Zero values select DefaultBufferSize and
// DefaultRunTTL.
func NewHub(bufferSize int, ttl time.Duration) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if ttl <= 0 {
		ttl = DefaultRunTTL
	}
	return &Hub{
		runs:       make(map[string]*run),
		bufferSize: bufferSize,
		ttl:        ttl,
	}
}

// CreateRun registers a new run and returns its id.
func (h *Hub) CreateRun() string {
	h.cleanupExpired()
	runID := uuid.NewString()
	h.mu.Lock()
	h.runs[runID] = &run{
		id:          runID,
		conns:       make(map[Conn]struct{}),
		lastUpdated: time.Now(),
	}
	h.mu.Unlock()
	return runID
}

// Subscribe attaches a connection to a run, replaying buffered events with
// id greater than sinceID first. Replay and attach happen under the run lock
// so an event emitted while a subscriber joins is either replayed or fanned
// out, never skipped and never delivered twice. Returns false when the run
// is unknown.
func (h *Hub) Subscribe(runID string, conn Conn, sinceID int64) bool {
	r := h.lookup(runID)
	if r == nil {
		return false
	}
	h.cleanupExpired()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.buffer {
		if event.ID <= sinceID {
			continue
		}
		if err := conn.Send(event); err != nil {
			log.Printf("[stream] replay send failed for run %s: %v", runID, err)
			return true
		}
	}
	r.conns[conn] = struct{}{}
	return true
}

// Unsubscribe detaches a connection from a run.
func (h *Hub) Unsubscribe(runID string, conn Conn) {
	r := h.lookup(runID)
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
	h.pruneIfComplete(r)
}

// Emit buffers and fans out one event. Events for cancelled runs are dropped
// unless terminal; run-complete and error mark the run completed.
func (h *Hub) Emit(runID, eventType string, data any) {
	r := h.lookup(runID)
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.cancelled && !isTerminal(eventType) {
		r.mu.Unlock()
		return
	}
	r.emitLocked(eventType, data, h.bufferSize)
	terminal := eventType == EventRunComplete || eventType == EventError
	if terminal {
		r.completed = true
	}
	r.mu.Unlock()
	if terminal {
		h.pruneIfComplete(r)
	}
}

// CancelRun marks a run cancelled and emits run-cancel. Returns false for
// unknown runs; cancelling twice is a no-op that still reports true.
func (h *Hub) CancelRun(runID string) bool {
	r := h.lookup(runID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return true
	}
	r.cancelled = true
	// Cancelled runs count as completed so the TTL sweep reclaims them.
	r.completed = true
	r.emitLocked(EventRunCancel, map[string]any{}, h.bufferSize)
	return true
}

// IsCancelled reports whether a run has been cancelled. Unknown runs are not
// cancelled.
func (h *Hub) IsCancelled(runID string) bool {
	r := h.lookup(runID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Has reports whether a run is known to the hub.
func (h *Hub) Has(runID string) bool {
	return h.lookup(runID) != nil
}

func (h *Hub) lookup(runID string) *run {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runs[runID]
}

func isTerminal(eventType string) bool {
	return eventType == EventRunCancel || eventType == EventRunComplete || eventType == EventError
}

// pruneIfComplete drops a completed run once it has no subscribers and its
// TTL has elapsed.
func (h *Hub) pruneIfComplete(r *run) {
	r.mu.Lock()
	expired := r.completed && len(r.conns) == 0 && time.Since(r.lastUpdated) > h.ttl
	r.mu.Unlock()
	if !expired {
		return
	}
	h.mu.Lock()
	delete(h.runs, r.id)
	h.mu.Unlock()
}

func (h *Hub) cleanupExpired() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, r := range h.runs {
		r.mu.Lock()
		expired := r.completed && len(r.conns) == 0 && time.Since(r.lastUpdated) > h.ttl
		r.mu.Unlock()
		if expired {
			delete(h.runs, id)
		}
	}
}
