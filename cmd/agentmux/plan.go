package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan <message>",
	Short: "Produce and print a plan without executing it",
	Long: `Produce the task breakdown for a request without running any worker.
The plan is persisted in the project state database and can be executed
later through the HTTP API (POST /api/plans/{id}/execute).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := signalContext()
	defer cancel()

	plan, planID := eng.orch.Plan(ctx, message)

	heading := color.New(color.FgCyan, color.Bold)
	heading.Println("Plan")
	if plan.Objective != "" {
		fmt.Printf("  Objective: %s\n", plan.Objective)
	}
	for _, task := range plan.Tasks {
		fmt.Printf("  %s %s: %s\n", color.YellowString("[%s]", task.ID), task.Role, task.Description)
		if task.ExpectedOutput != "" {
			fmt.Printf("       expects: %s\n", task.ExpectedOutput)
		}
	}
	fmt.Printf("\nPlan id: %s\n", planID)
	return nil
}
