package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bko/agentmux/internal/agent"
	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/internal/fileio"
	"github.com/bko/agentmux/internal/orchestrator"
	"github.com/bko/agentmux/internal/store"
	"github.com/bko/agentmux/internal/stream"
	"github.com/bko/agentmux/internal/tools"
	"github.com/bko/agentmux/pkg/models"
)

// fakeInvoker returns canned responses keyed off the system prompt so the
// full request path can run without a model.
type fakeInvoker struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeInvoker) Invoke(_ context.Context, req agent.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	switch {
	case strings.Contains(req.System, "You are the agent selector"):
		return `{"roles": ["qa"]}`, nil
	case strings.Contains(req.System, "You are the Orchestrator agent"):
		return `{"objective": "check things", "tasks": [{"id": "task-1", "role": "qa", "description": "check things", "expectedOutput": "report"}]}`, nil
	case strings.Contains(req.System, "You are the execution reviewer"):
		return `{"objective": "done", "tasks": []}`, nil
	case strings.Contains(req.System, "You are the synthesis agent"):
		return "final answer", nil
	case strings.Contains(req.System, "collaborating with peer agents"):
		return "stage summary", nil
	default:
		return "work done", nil
	}
}

type testEnv struct {
	server  *Server
	emitter *stream.Emitter
	store   *store.Store
}

func newTestEnv(t *testing.T, st *store.Store) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Orchestration: config.OrchestrationConfig{
			MaxTasks:          4,
			WorkerConcurrency: 2,
			WorkerTimeout:     5 * time.Second,
			MaxIterations:     3,
			WorkerRoles: []string{
				"analysis", "research", "design", "engineering",
				"implementer", "qa", "writing", "general",
			},
			WorkspaceRoot: t.TempDir(),
		},
		RoleDefaults: config.RoleExecutionConfig{Rounds: 1, Agents: 1, Strategy: "simple-summary"},
		Server:       config.ServerConfig{Addr: ":0"},
	}
	files, err := fileio.NewService(cfg.Orchestration.WorkspaceRoot)
	if err != nil {
		t.Fatalf("fileio service: %v", err)
	}
	agents := agent.NewService(&fakeInvoker{}, tools.NewPolicy(config.ToolsConfig{}), files)
	emitter := stream.NewEmitter(stream.NewHub(0, 0))
	orch := orchestrator.New(cfg, agents, emitter, st, nil)
	return &testEnv{
		server:  New(cfg, orch, emitter, st),
		emitter: emitter,
		store:   st,
	}
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatReturnsResult(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.server.Handler(), "/api/chat", `{"message": "Summarize the architecture documentation"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var result models.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.FinalAnswer != "final answer" {
		t.Errorf("finalAnswer = %q, want %q", result.FinalAnswer, "final answer")
	}
	if len(result.Results) == 0 {
		t.Error("expected worker results")
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.server.Handler(), "/api/chat", `{"message": "   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank message status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	rec = postJSON(t, env.server.Handler(), "/api/chat", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestPlanReturnsPlanAndID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.server.Handler(), "/api/chat/plan", `{"message": "Review the test suite"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		PlanID string      `json:"planId"`
		Plan   models.Plan `json:"plan"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PlanID == "" {
		t.Error("expected a plan id")
	}
	if len(resp.Plan.Tasks) != 1 || resp.Plan.Tasks[0].ID != "task-1" {
		t.Errorf("unexpected plan tasks: %+v", resp.Plan.Tasks)
	}
}

func TestStreamDispatchAndCancel(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.server.Handler(), "/api/chat/stream", `{"message": "Summarize the architecture documentation"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("stream status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID == "" {
		t.Fatal("expected a run id")
	}

	rec = postJSON(t, env.server.Handler(), "/api/runs/"+resp.RunID+"/cancel", `{}`)
	if rec.Code != http.StatusOK {
		t.Errorf("cancel status = %d: %s", rec.Code, rec.Body.String())
	}
	if !env.emitter.IsCancelled(resp.RunID) {
		t.Error("run should be cancelled")
	}

	rec = postJSON(t, env.server.Handler(), "/api/runs/no-such-run/cancel", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown run cancel status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestEventsReplaySince(t *testing.T) {
	env := newTestEnv(t, nil)
	runID := env.emitter.CreateRun()
	env.emitter.Status(runID, "Queued")
	env.emitter.Status(runID, "Working")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/events?since=1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
	body := rec.Body.String()
	if strings.Contains(body, "Queued") {
		t.Errorf("since=1 should skip the first event, got %q", body)
	}
	if !strings.Contains(body, "Working") {
		t.Errorf("expected the second event in replay, got %q", body)
	}
	if !strings.HasPrefix(body, "data: ") {
		t.Errorf("expected SSE framing, got %q", body)
	}
}

func TestEventsErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/no-such-run/events", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if ct := rec.Header().Get("Content-Type"); strings.Contains(ct, "text/event-stream") {
		t.Errorf("404 should not carry SSE headers, got Content-Type %q", ct)
	}

	runID := env.emitter.CreateRun()
	req = httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/events?since=abc", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExecutePlan(t *testing.T) {
	st, err := store.Open(store.ProjectDBPath(t.TempDir()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := newTestEnv(t, st)

	sessionID := st.StartSession("check things", "test-model")
	plan := models.Plan{
		Objective: "check things",
		Tasks:     []models.Task{{ID: "task-1", Role: "qa", Description: "check things", ExpectedOutput: "report"}},
	}
	planID := st.LogPlan(sessionID, plan, true)

	rec := postJSON(t, env.server.Handler(), "/api/plans/"+planID+"/execute", `{"message": "check things"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var result models.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.FinalAnswer != "work done" {
		t.Errorf("finalAnswer = %q, want %q", result.FinalAnswer, "work done")
	}

	rec = postJSON(t, env.server.Handler(), "/api/plans/no-such-plan/execute", `{"message": "check things"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown plan status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
