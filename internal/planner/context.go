package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/pkg/models"
)

// BuildRoleRegistry renders the role-to-skill registry injected into planning
// prompts so the model assigns tasks to roles that can actually do them.
func BuildRoleRegistry(roles []string, skills config.SkillsConfig) string {
	var sb strings.Builder
	for _, role := range roles {
		sb.WriteString("- " + role + "\n")
		roleSkills := skills.ForWorkerRole(role)
		if len(roleSkills) == 0 {
			sb.WriteString("  skills: none\n")
			continue
		}
		for _, skill := range roleSkills {
			sb.WriteString("  - " + skill.Name)
			if strings.TrimSpace(skill.Description) != "" {
				sb.WriteString(": " + strings.TrimSpace(skill.Description))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// BuildResultsContext renders worker results as a context block, one
// "[role - taskId]" header per result.
func BuildResultsContext(results []models.WorkerResult) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, result := range results {
		fmt.Fprintf(&sb, "[%s - %s]\n%s\n\n", result.Role, result.TaskID, result.Output)
	}
	return strings.TrimSpace(sb.String())
}

// FilterResultsByRole keeps only results whose role is in the set.
func FilterResultsByRole(results []models.WorkerResult, roles map[string]bool) []models.WorkerResult {
	if len(results) == 0 {
		return nil
	}
	var out []models.WorkerResult
	for _, result := range results {
		if roles[result.Role] {
			out = append(out, result)
		}
	}
	return out
}

// BuildAdvisoryContext renders only the advisory-role results.
func BuildAdvisoryContext(results []models.WorkerResult) string {
	return BuildResultsContext(FilterResultsByRole(results, models.AdvisoryRoles))
}

// MergeContexts joins two context blocks, tolerating either being empty.
func MergeContexts(base, addition string) string {
	if strings.TrimSpace(base) == "" {
		if strings.TrimSpace(addition) == "" {
			return ""
		}
		return addition
	}
	if strings.TrimSpace(addition) == "" {
		return base
	}
	return base + "\n\n" + addition
}

// DefaultContext substitutes "None." for a blank context so prompts never
// carry an empty section.
func DefaultContext(context string) string {
	if strings.TrimSpace(context) == "" {
		return "None."
	}
	return context
}

// workspaceTreeMaxDepth bounds the directory tree rendered into prompts.
const workspaceTreeMaxDepth = 3

// BuildWorkspaceContext renders a shallow tree of the workspace so planning
// prompts see the project layout without tool calls.
func BuildWorkspaceContext(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current Workspace Structure (%s):\n", filepath.Base(abs))
	lines := workspaceTree(abs, 0)
	if len(lines) == 0 {
		sb.WriteString(" (Empty or inaccessible)")
		return sb.String()
	}
	for _, line := range lines {
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func workspaceTree(dir string, depth int) []string {
	if depth > workspaceTreeMaxDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})
	indent := strings.Repeat("  ", depth)
	var lines []string
	for _, entry := range entries {
		name := entry.Name()
		if ignoredTreeEntry(name) {
			continue
		}
		if entry.IsDir() {
			lines = append(lines, indent+"├─ "+name+"/")
			lines = append(lines, workspaceTree(filepath.Join(dir, name), depth+1)...)
		} else {
			lines = append(lines, indent+"├─ "+name)
		}
	}
	return lines
}

func ignoredTreeEntry(name string) bool {
	return strings.HasPrefix(name, ".") ||
		name == "node_modules" || name == "target" || name == "bin" || name == "build"
}
