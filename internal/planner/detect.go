package planner

import "strings"

// Phrases that directly signal a file-editing request.
var editPhrases = []string{
	"modify your own code",
	"edit the code",
	"change the code",
	"apply the changes",
	"make the following changes",
	"implement this",
}

// Verbs that, paired with an artifact, indicate an edit request.
var editVerbs = []string{
	"modify", "change", "update", "fix", "add", "implement", "remove",
	"delete", "refactor", "rename", "create", "build", "wire", "adjust", "edit", "patch",
}

// Artifacts an edit verb can act on.
var editArtifacts = []string{
	"code", "repo", "repository", "project", "app", "application", "api",
	"endpoint", "controller", "service", "ui", "frontend", "backend", "css",
	"html", "javascript", "js", "java", "spring", "config", "yaml", "yml",
	"file", "files", "readme", "tests", "database", "schema", "table",
}

// Directive phrasings that turn a verb+artifact mention into a request.
var directivePhrases = []string{
	"please ",
	"can you",
	"could you",
	"i want",
	"i need",
	"i'd like",
	"we need",
	"we want",
}

const fileEditInstruction = "\nApply the requested changes directly to repository files using the filesystem tools (read and write)."

// DefaultExpectedOutput substitutes for a blank expected-output field.
const DefaultExpectedOutput = "Provide concise, actionable output."

// RequiresFileEdits heuristically decides whether a user message asks for
// file modifications. An explicit edit phrase always qualifies; otherwise the
// message needs an edit verb and an artifact, and must either start with the
// verb or contain a directive phrasing.
func RequiresFileEdits(userMessage string) bool {
	if strings.TrimSpace(userMessage) == "" {
		return false
	}
	text := strings.ToLower(userMessage)
	for _, phrase := range editPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	hasVerb := containsAny(text, editVerbs)
	hasArtifact := containsAny(text, editArtifacts)
	if !hasVerb || !hasArtifact {
		return false
	}
	trimmed := strings.TrimSpace(text)
	for _, verb := range editVerbs {
		if strings.HasPrefix(trimmed, verb+" ") {
			return true
		}
	}
	return containsAny(text, directivePhrases)
}

// AppendFileEditInstruction normalizes an expected output and, for tasks
// allowed to edit, appends the explicit instruction to use the file tools.
// Already-stamped outputs pass through unchanged so re-sanitizing a plan is
// stable.
func AppendFileEditInstruction(expectedOutput string, canEdit bool) string {
	base := strings.TrimSpace(expectedOutput)
	if base == "" {
		base = DefaultExpectedOutput
	}
	if !canEdit {
		return base
	}
	if strings.HasSuffix(base, strings.TrimSpace(fileEditInstruction)) {
		return base
	}
	return base + fileEditInstruction
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
