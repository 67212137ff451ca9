package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bko/agentmux/pkg/models"
)

// Skill is one named capability advertised to an agent in its system prompt.
type Skill struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Instructions string `yaml:"instructions"`
}

// SkillsConfig maps skills onto the orchestrator, the synthesis agent, and
// worker roles. It is loaded from a standalone YAML registry rather than the
// main config file so skill catalogs can be shared between projects.
type SkillsConfig struct {
	Orchestrator   []Skill            `yaml:"orchestrator"`
	Synthesis      []Skill            `yaml:"synthesis"`
	WorkerDefaults []Skill            `yaml:"worker_defaults"`
	Workers        map[string][]Skill `yaml:"workers"`
}

// ForWorkerRole returns the combined skills for a role: defaults first,
// then role-specific entries.
func (s SkillsConfig) ForWorkerRole(role string) []Skill {
	combined := append([]Skill{}, s.WorkerDefaults...)
	if skills, ok := s.Workers[models.NormalizeRole(role)]; ok {
		combined = append(combined, skills...)
	}
	return combined
}

// LoadSkills parses the skills registry at path. A missing file yields an
// empty registry; a malformed file is an error.
func LoadSkills(path string) (SkillsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SkillsConfig{}, nil
		}
		return SkillsConfig{}, fmt.Errorf("read skills registry: %w", err)
	}
	var skills SkillsConfig
	if err := yaml.Unmarshal(data, &skills); err != nil {
		return SkillsConfig{}, fmt.Errorf("parse skills registry %s: %w", path, err)
	}
	return skills, nil
}
