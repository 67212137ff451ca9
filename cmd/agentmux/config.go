package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bko/agentmux/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show resolved configuration",
	Long: `Display the effective configuration after merging the XDG config
file, the project-level .agentmux/config.yaml, and AGENTMUX_* environment
variables.

Without arguments, displays all configuration values.
With one argument (key), displays the value for that key.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectRoot, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg, err := config.Load(projectRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 0 {
			displayAllConfig(cfg)
			return
		}
		value, err := getConfigValue(cfg, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(value)
	},
}

var configKeys = []string{
	"anthropic.api_key",
	"anthropic.model",
	"orchestration.max_tasks",
	"orchestration.worker_concurrency",
	"orchestration.worker_timeout",
	"orchestration.max_iterations",
	"orchestration.worker_roles",
	"orchestration.workspace_root",
	"role_defaults.rounds",
	"role_defaults.agents",
	"role_defaults.strategy",
	"server.addr",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, key := range configKeys {
		value, err := getConfigValue(cfg, key)
		if err != nil {
			continue
		}
		fmt.Printf("%s: %s\n", key, value)
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		// Mask the API key if set
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "orchestration.max_tasks":
		return strconv.Itoa(cfg.Orchestration.MaxTasks), nil
	case "orchestration.worker_concurrency":
		return strconv.Itoa(cfg.Orchestration.WorkerConcurrency), nil
	case "orchestration.worker_timeout":
		return cfg.Orchestration.WorkerTimeout.String(), nil
	case "orchestration.max_iterations":
		return strconv.Itoa(cfg.Orchestration.MaxIterations), nil
	case "orchestration.worker_roles":
		return strings.Join(cfg.Orchestration.WorkerRoles, ", "), nil
	case "orchestration.workspace_root":
		return cfg.Orchestration.WorkspaceRoot, nil
	case "role_defaults.rounds":
		return strconv.Itoa(cfg.RoleDefaults.Rounds), nil
	case "role_defaults.agents":
		return strconv.Itoa(cfg.RoleDefaults.Agents), nil
	case "role_defaults.strategy":
		return cfg.RoleDefaults.Strategy, nil
	case "server.addr":
		return cfg.Server.Addr, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}
