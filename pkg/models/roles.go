package models

import "strings"

// Well-known worker roles. The configured role set may extend this list;
// these constants only name the roles the engine gives special treatment.
const (
	// RoleAnalysis examines the request; advisory, never edits files.
	RoleAnalysis = "analysis"
	// RoleDesign proposes an approach; advisory, never edits files.
	RoleDesign = "design"
	// RoleEngineering reaches technical consensus before implementation.
	// Engineering tasks run sequentially, each feeding the next.
	RoleEngineering = "engineering"
	// RoleImplementer is the only role permitted to perform file-mutating
	// tool calls. Implementer tasks run last and sequentially.
	RoleImplementer = "implementer"
	// RoleGeneral is the fallback role for unmatched work.
	RoleGeneral = "general"
)

// AdvisoryRoles are roles whose output informs planning but whose tasks are
// stripped from execution-phase plans.
var AdvisoryRoles = map[string]bool{
	RoleAnalysis: true,
	RoleDesign:   true,
}

// IsAdvisory reports whether role belongs to the advisory tier.
func IsAdvisory(role string) bool {
	return AdvisoryRoles[role]
}

// NormalizeRole canonicalizes a free-form role name: trimmed and lowercased.
// Applied once at ingestion so downstream comparisons are plain equality.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// NormalizeRoles normalizes every entry, dropping blanks and duplicates
// while preserving first-seen order.
func NormalizeRoles(roles []string) []string {
	seen := make(map[string]bool, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		normalized := NormalizeRole(role)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

// FallbackRole picks the role a task defaults to when its own role is
// missing or not in the allowed set: "general" when available, otherwise the
// first allowed role.
func FallbackRole(allowedRoles []string) string {
	for _, role := range allowedRoles {
		if role == RoleGeneral {
			return RoleGeneral
		}
	}
	if len(allowedRoles) == 0 {
		return RoleGeneral
	}
	return allowedRoles[0]
}
