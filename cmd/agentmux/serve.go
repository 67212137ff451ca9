package main

import (
	"github.com/spf13/cobra"

	"github.com/bko/agentmux/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP orchestration server",
	Long: `Start the HTTP server exposing the orchestration engine.

Endpoints:
  POST /api/chat                  run a request to completion, return the result
  POST /api/chat/plan             produce a plan without executing it
  POST /api/chat/stream           start a run in the background, return its run id
  POST /api/plans/{id}/execute    execute a previously produced plan
  POST /api/runs/{id}/cancel      cancel a running orchestration
  GET  /api/runs/{id}/events      subscribe to run events as SSE (?since=N replays)`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if serveAddr != "" {
		eng.cfg.Server.Addr = serveAddr
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := server.New(eng.cfg, eng.orch, eng.emitter, eng.store)
	return srv.ListenAndServe(ctx)
}
