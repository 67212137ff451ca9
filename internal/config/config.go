// Package config handles configuration loading for agentmux.
// It supports XDG config paths, project-level overrides, and environment
// variables via viper, plus a YAML skills registry loaded separately.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/bko/agentmux/pkg/models"
)

// Config holds all configuration for agentmux.
type Config struct {
	Anthropic     AnthropicConfig                `mapstructure:"anthropic"`
	Orchestration OrchestrationConfig            `mapstructure:"orchestration"`
	Tools         ToolsConfig                    `mapstructure:"tools"`
	RoleDefaults  RoleExecutionConfig            `mapstructure:"role_defaults"`
	Roles         map[string]RoleExecutionConfig `mapstructure:"roles"`
	Server        ServerConfig                   `mapstructure:"server"`
	Skills        SkillsConfig                   `mapstructure:"-"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OrchestrationConfig holds the scheduling limits for a run.
type OrchestrationConfig struct {
	// MaxTasks caps the number of tasks accepted from a single plan.
	MaxTasks int `mapstructure:"max_tasks"`
	// WorkerConcurrency bounds the shared worker pool.
	WorkerConcurrency int `mapstructure:"worker_concurrency"`
	// WorkerTimeout is the per-task execution timeout.
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`
	// MaxIterations is the hard ceiling on plan/continuation iterations.
	MaxIterations int `mapstructure:"max_iterations"`
	// WorkerRoles is the configured role set, normalized at load time.
	WorkerRoles []string `mapstructure:"worker_roles"`
	// WorkspaceRoot confines all file tools. Defaults to the working directory.
	WorkspaceRoot string `mapstructure:"workspace_root"`
}

// ToolsConfig restricts which tool names are exposed per phase and role.
// Empty lists fall back to the hard-coded least-privilege defaults in
// internal/tools.
type ToolsConfig struct {
	Orchestrator   []string            `mapstructure:"orchestrator"`
	Synthesis      []string            `mapstructure:"synthesis"`
	WorkerDefaults []string            `mapstructure:"worker_defaults"`
	Workers        map[string][]string `mapstructure:"workers"`
}

// ForWorkerRole combines the worker defaults with the role-specific entries,
// normalized and deduplicated in order.
func (t ToolsConfig) ForWorkerRole(role string) []string {
	combined := append([]string{}, t.WorkerDefaults...)
	if names, ok := t.Workers[models.NormalizeRole(role)]; ok {
		combined = append(combined, names...)
	}
	return models.NormalizeRoles(combined)
}

// RoleExecutionConfig controls multi-agent collaboration for one role.
type RoleExecutionConfig struct {
	// Rounds is the number of collaboration rounds (min 1).
	Rounds int `mapstructure:"rounds"`
	// Agents is the number of parallel agents per round (min 1).
	Agents int `mapstructure:"agents"`
	// Strategy names the collaboration strategy (see internal/collab).
	Strategy string `mapstructure:"strategy"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// RoleExecution resolves the effective collaboration settings for a role:
// role override fields win over defaults when set.
func (c *Config) RoleExecution(role string) RoleExecutionConfig {
	resolved := c.RoleDefaults
	if resolved.Rounds < 1 {
		resolved.Rounds = 1
	}
	if resolved.Agents < 1 {
		resolved.Agents = 1
	}
	override, ok := c.Roles[models.NormalizeRole(role)]
	if !ok {
		return resolved
	}
	if override.Rounds > 0 {
		resolved.Rounds = override.Rounds
	}
	if override.Agents > 0 {
		resolved.Agents = override.Agents
	}
	if override.Strategy != "" {
		resolved.Strategy = override.Strategy
	}
	return resolved
}

// defaultWorkerRoles is the role set used when none is configured.
var defaultWorkerRoles = []string{
	"analysis", "research", "design", "engineering",
	"implementer", "qa", "writing", "general",
}

// ConfigDir returns the agentmux config directory, honoring XDG_CONFIG_HOME.
func ConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "agentmux")
}

// Load reads configuration from the XDG config directory, an optional
// project-level .agentmux/config.yaml, and AGENTMUX_* environment variables.
// Missing files are not an error; defaults apply.
func Load(projectRoot string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	if projectRoot != "" {
		v.AddConfigPath(filepath.Join(projectRoot, ".agentmux"))
	}
	v.SetEnvPrefix("AGENTMUX")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Orchestration.WorkerRoles = models.NormalizeRoles(cfg.Orchestration.WorkerRoles)
	if len(cfg.Orchestration.WorkerRoles) == 0 {
		cfg.Orchestration.WorkerRoles = append([]string{}, defaultWorkerRoles...)
	}
	if cfg.Orchestration.WorkspaceRoot == "" {
		if projectRoot != "" {
			cfg.Orchestration.WorkspaceRoot = projectRoot
		} else {
			cfg.Orchestration.WorkspaceRoot, _ = os.Getwd()
		}
	}

	skills, err := LoadSkills(skillsPath(projectRoot))
	if err != nil {
		return nil, err
	}
	cfg.Skills = skills

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("orchestration.max_tasks", 4)
	v.SetDefault("orchestration.worker_concurrency", 4)
	v.SetDefault("orchestration.worker_timeout", 90*time.Second)
	v.SetDefault("orchestration.max_iterations", 15)
	v.SetDefault("role_defaults.rounds", 1)
	v.SetDefault("role_defaults.agents", 1)
	v.SetDefault("role_defaults.strategy", "simple-summary")
	v.SetDefault("server.addr", ":8080")
}

// skillsPath locates the skills registry: project .agentmux/skills.yaml
// first, then the XDG config directory.
func skillsPath(projectRoot string) string {
	if projectRoot != "" {
		candidate := filepath.Join(projectRoot, ".agentmux", "skills.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(ConfigDir(), "skills.yaml")
}
