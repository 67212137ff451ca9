// Package store persists orchestration sessions, plans, prompts, worker
// results, and tool calls to a project-local SQLite database. Persistence is
// best-effort: logging failures are logged and swallowed so a broken
// database never fails a run.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bko/agentmux/pkg/models"
)

// Store wraps an SQLite database with the orchestration audit-trail
// operations. A nil *Store is valid and drops everything.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// ProjectDBPath returns the project-local database path.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".agentmux", "state.db")
}

// Open opens (and creates if needed) the database at path with WAL mode and
// foreign keys enabled.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &Store{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Migrate creates the schema.
func (s *Store) Migrate() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_prompt TEXT NOT NULL,
			model TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			final_answer TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		);
		CREATE TABLE IF NOT EXISTS prompt_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			purpose TEXT NOT NULL,
			role TEXT,
			system_prompt TEXT,
			user_prompt TEXT,
			response TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS plan_logs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			objective TEXT,
			is_initial INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS task_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id TEXT NOT NULL REFERENCES plan_logs(id),
			task_id TEXT NOT NULL,
			role TEXT NOT NULL,
			description TEXT,
			expected_output TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS worker_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			task_id TEXT,
			role TEXT,
			output TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS tool_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			task_id TEXT,
			role TEXT,
			tool_name TEXT NOT NULL,
			tool_input TEXT,
			tool_output TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// StartSession records the start of an orchestration and returns the
// session id. On failure the session id is still returned so the run can
// proceed without persistence.
func (s *Store) StartSession(userPrompt, model string) string {
	sessionID := uuid.NewString()
	if s == nil {
		return sessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(
		"INSERT INTO sessions (id, user_prompt, model) VALUES (?, ?, ?)",
		sessionID, userPrompt, model)
	if err != nil {
		log.Printf("[store] failed to start session: %v", err)
	}
	return sessionID
}

// CompleteSession records the terminal status and final answer.
func (s *Store) CompleteSession(sessionID, finalAnswer, status string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(
		"UPDATE sessions SET status = ?, final_answer = ?, completed_at = ? WHERE id = ?",
		status, finalAnswer, time.Now().UTC(), sessionID)
	if err != nil {
		log.Printf("[store] failed to complete session %s: %v", sessionID, err)
	}
}

// LogPrompt records one model call.
func (s *Store) LogPrompt(sessionID, purpose, role, systemPrompt, userPrompt, response string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(
		"INSERT INTO prompt_logs (session_id, purpose, role, system_prompt, user_prompt, response) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, purpose, role, systemPrompt, userPrompt, response)
	if err != nil {
		log.Printf("[store] failed to log prompt %s: %v", purpose, err)
	}
}

// LogPlan records a plan and its tasks, returning the plan id.
func (s *Store) LogPlan(sessionID string, plan models.Plan, initial bool) string {
	planID := uuid.NewString()
	if s == nil {
		return planID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	isInitial := 0
	if initial {
		isInitial = 1
	}
	if _, err := s.conn.Exec(
		"INSERT INTO plan_logs (id, session_id, objective, is_initial) VALUES (?, ?, ?, ?)",
		planID, sessionID, plan.Objective, isInitial); err != nil {
		log.Printf("[store] failed to log plan: %v", err)
		return planID
	}
	for _, task := range plan.Tasks {
		if _, err := s.conn.Exec(
			"INSERT INTO task_logs (plan_id, task_id, role, description, expected_output) VALUES (?, ?, ?, ?, ?)",
			planID, task.ID, task.Role, task.Description, task.ExpectedOutput); err != nil {
			log.Printf("[store] failed to log task %s: %v", task.ID, err)
		}
	}
	return planID
}

// FindPlan loads a stored plan with its tasks in insertion order.
func (s *Store) FindPlan(planID string) (models.Plan, error) {
	if s == nil {
		return models.Plan{}, fmt.Errorf("store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var plan models.Plan
	row := s.conn.QueryRow("SELECT objective FROM plan_logs WHERE id = ?", planID)
	if err := row.Scan(&plan.Objective); err != nil {
		return models.Plan{}, fmt.Errorf("plan %s: %w", planID, err)
	}
	rows, err := s.conn.Query(
		"SELECT task_id, role, description, expected_output FROM task_logs WHERE plan_id = ? ORDER BY id",
		planID)
	if err != nil {
		return models.Plan{}, fmt.Errorf("plan %s tasks: %w", planID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var task models.Task
		if err := rows.Scan(&task.ID, &task.Role, &task.Description, &task.ExpectedOutput); err != nil {
			return models.Plan{}, fmt.Errorf("scan task: %w", err)
		}
		plan.Tasks = append(plan.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return models.Plan{}, fmt.Errorf("iterate tasks: %w", err)
	}
	return plan, nil
}

// LogWorkerResult records one worker output.
func (s *Store) LogWorkerResult(sessionID string, result models.WorkerResult) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(
		"INSERT INTO worker_results (session_id, task_id, role, output) VALUES (?, ?, ?, ?)",
		sessionID, result.TaskID, result.Role, result.Output)
	if err != nil {
		log.Printf("[store] failed to log worker result %s: %v", result.TaskID, err)
	}
}

// LogToolCall records one audited tool call.
func (s *Store) LogToolCall(sessionID, taskID, role, toolName, toolInput, toolOutput string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(
		"INSERT INTO tool_calls (session_id, task_id, role, tool_name, tool_input, tool_output) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, taskID, role, toolName, toolInput, toolOutput)
	if err != nil {
		log.Printf("[store] failed to log tool call %s: %v", toolName, err)
	}
}
