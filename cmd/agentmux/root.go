package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentmux",
	Short: "Multi-agent LLM orchestration engine",
	Long: `Agentmux decomposes a request into role-tagged tasks, schedules them
across a bounded worker pool, runs collaboration rounds per role, and
synthesizes the worker outputs into one answer.

Workers run under least-privilege filesystem tool policies; only the
implementer role may write files, and every tool call is audited.

Use 'chat' for a one-shot run in the terminal, 'plan' to preview the
task breakdown without executing it, or 'serve' to expose the engine
over HTTP with live event streaming, replay, and cancellation.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
