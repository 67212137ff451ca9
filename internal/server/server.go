// Package server exposes the orchestration engine over HTTP. The surface is
// a thin relay: request in, orchestrator call, JSON or SSE out. All
// scheduling, streaming, and persistence decisions live below it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/internal/orchestrator"
	"github.com/bko/agentmux/internal/store"
	"github.com/bko/agentmux/internal/stream"
)

const shutdownTimeout = 5 * time.Second

// Server routes the HTTP API.
type Server struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	emitter *stream.Emitter
	store   *store.Store
	mux     *http.ServeMux
}

// New wires the routes.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, emitter *stream.Emitter, st *store.Store) *Server {
	s := &Server{cfg: cfg, orch: orch, emitter: emitter, store: st, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/chat", s.chat)
	s.mux.HandleFunc("POST /api/chat/plan", s.plan)
	s.mux.HandleFunc("POST /api/chat/stream", s.chatStream)
	s.mux.HandleFunc("POST /api/plans/{id}/execute", s.executePlan)
	s.mux.HandleFunc("POST /api/runs/{id}/cancel", s.cancelRun)
	s.mux.HandleFunc("GET /api/runs/{id}/events", s.events)
	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Server.Addr, Handler: s.mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[server] shutdown: %v", err)
		}
	}()
	log.Printf("[server] listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	result, err := s.orch.Orchestrate(r.Context(), req.Message)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) plan(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	plan, planID := s.orch.Plan(r.Context(), req.Message)
	writeJSON(w, http.StatusOK, map[string]any{
		"planId": planID,
		"plan":   plan,
	})
}

func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	runID := s.emitter.CreateRun()
	s.emitter.Status(runID, "Queued")
	// The request context dies with the response; the run outlives it.
	go func() {
		if _, err := s.orch.OrchestrateStreaming(context.Background(), runID, req.Message); err != nil {
			log.Printf("[server] run %s failed: %v", runID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"runId":     runID,
		"createdAt": time.Now().UTC(),
	})
}

func (s *Server) executePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	planID := r.PathValue("id")
	plan, err := s.store.FindPlan(planID)
	if err != nil {
		http.Error(w, "plan not found", http.StatusNotFound)
		return
	}
	result, err := s.orch.ExecuteApprovedPlan(r.Context(), "", req.Message, plan)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if !s.emitter.CancelRun(runID) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

// events streams run events as SSE, replaying anything after the client's
// last seen event id.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sinceID := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		sinceID = parsed
	}

	if !s.emitter.Hub().Has(runID) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	conn := &sseConn{w: w, flusher: flusher}
	// The run can expire between the check and the subscribe; the stream
	// just ends in that case.
	if !s.emitter.Hub().Subscribe(runID, conn, sinceID) {
		return
	}
	defer s.emitter.Hub().Unsubscribe(runID, conn)
	<-r.Context().Done()
}

// sseConn adapts an HTTP response to the hub's Conn interface.
type sseConn struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

var _ stream.Conn = (*sseConn)(nil)

func (c *sseConn) Send(event stream.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}
