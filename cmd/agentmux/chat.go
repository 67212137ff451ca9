package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bko/agentmux/internal/planner"
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Run one orchestration to completion and print the answer",
	Long: `Run the full orchestration pipeline for a single request: role
selection, planning, tiered task execution, and synthesis. Prints the
plan, per-task results, and the final answer.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := eng.orch.Orchestrate(ctx, message)
	if err != nil {
		return fmt.Errorf("orchestration failed: %w", err)
	}

	heading := color.New(color.FgCyan, color.Bold)

	heading.Println("Plan")
	if result.Plan.Objective != "" {
		fmt.Printf("  Objective: %s\n", result.Plan.Objective)
	}
	for _, task := range result.Plan.Tasks {
		fmt.Printf("  %s %s: %s\n", color.YellowString("[%s]", task.ID), task.Role, task.Description)
	}

	fmt.Println()
	heading.Println("Tasks")
	for _, r := range result.Results {
		if planner.IsFailureOutput(r.Output) {
			fmt.Printf("  %s %s (%s)\n", color.RedString("FAIL"), r.TaskID, r.Role)
		} else {
			fmt.Printf("  %s %s (%s)\n", color.GreenString("OK  "), r.TaskID, r.Role)
		}
	}

	fmt.Println()
	heading.Println("Answer")
	fmt.Println(result.FinalAnswer)

	input, output := eng.claude.Tracker().Total()
	fmt.Printf("\nTokens: %d in / %d out across %d calls\n", input, output, eng.claude.Tracker().Calls())
	return nil
}
