package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bko/agentmux/internal/agent"
	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/internal/fileio"
	"github.com/bko/agentmux/internal/orchestrator"
	"github.com/bko/agentmux/internal/store"
	"github.com/bko/agentmux/internal/stream"
	"github.com/bko/agentmux/internal/tools"
)

// engine bundles the wired orchestration stack for the CLI commands.
type engine struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	emitter *stream.Emitter
	store   *store.Store
	claude  *agent.Claude
}

// buildEngine loads configuration from the current project and wires the
// full stack. The state database is optional: when it cannot be opened the
// engine runs without persistence.
func buildEngine() (*engine, error) {
	projectRoot, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	claude, err := agent.NewClaude(agent.ClaudeConfig{
		Model:  cfg.Anthropic.Model,
		APIKey: cfg.Anthropic.APIKey,
	})
	if err != nil {
		return nil, err
	}

	files, err := fileio.NewService(cfg.Orchestration.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("workspace access: %w", err)
	}

	var st *store.Store
	st, err = store.Open(store.ProjectDBPath(projectRoot))
	if err != nil {
		fmt.Printf("Warning: state database unavailable: %v\n", err)
		st = nil
	} else if err := st.Migrate(); err != nil {
		fmt.Printf("Warning: state database migration failed: %v\n", err)
		st.Close()
		st = nil
	}

	agents := agent.NewService(claude, tools.NewPolicy(cfg.Tools), files)
	emitter := stream.NewEmitter(stream.NewHub(0, 0))
	orch := orchestrator.New(cfg, agents, emitter, st, nil)

	return &engine{cfg: cfg, orch: orch, emitter: emitter, store: st, claude: claude}, nil
}

func (e *engine) Close() {
	if err := e.store.Close(); err != nil {
		fmt.Printf("Warning: closing state database: %v\n", err)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()
	return ctx, cancel
}
