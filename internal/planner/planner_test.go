package planner

import (
	"reflect"
	"strings"
	"testing"

	"github.com/bko/agentmux/internal/config"
	"github.com/bko/agentmux/pkg/models"
)

func testPlanner() *Planner {
	cfg := &config.Config{}
	cfg.Orchestration.MaxTasks = 4
	cfg.Orchestration.WorkerRoles = []string{
		"analysis", "research", "design", "engineering",
		"implementer", "qa", "writing", "general",
	}
	return New(nil, cfg)
}

func TestSanitizePlanClampsTaskCount(t *testing.T) {
	p := testPlanner()
	plan := &models.Plan{Objective: "obj", Tasks: []models.Task{
		{ID: "t1", Role: "qa", Description: "one"},
		{ID: "t2", Role: "qa", Description: "two"},
		{ID: "t3", Role: "qa", Description: "three"},
		{ID: "t4", Role: "qa", Description: "four"},
		{ID: "t5", Role: "qa", Description: "five"},
		{ID: "t6", Role: "qa", Description: "six"},
	}}
	got := p.SanitizePlan(plan, "request", false, p.AvailableRoles(), false, false)
	if len(got.Tasks) != 4 {
		t.Fatalf("tasks = %d, want clamp at 4", len(got.Tasks))
	}
}

func TestSanitizePlanDeduplicates(t *testing.T) {
	p := testPlanner()
	plan := &models.Plan{Tasks: []models.Task{
		{ID: "t1", Role: "qa", Description: "Check the   API"},
		{ID: "t2", Role: "QA ", Description: "check the api"},
		{ID: "t3", Role: "qa", Description: "different work"},
	}}
	got := p.SanitizePlan(plan, "request", false, p.AvailableRoles(), false, false)
	if len(got.Tasks) != 2 {
		t.Fatalf("tasks = %d, want duplicate collapsed", len(got.Tasks))
	}
	if got.Tasks[0].ID != "t1" {
		t.Errorf("first occurrence should win, got %s", got.Tasks[0].ID)
	}
}

func TestSanitizePlanExcludesAdvisory(t *testing.T) {
	p := testPlanner()
	plan := &models.Plan{Tasks: []models.Task{
		{ID: "a1", Role: "analysis", Description: "analyze"},
		{ID: "d1", Role: "design", Description: "design"},
		{ID: "t1", Role: "engineering", Description: "build"},
	}}
	got := p.SanitizePlan(plan, "request", false, p.AvailableRoles(), true, false)
	if len(got.Tasks) != 1 || got.Tasks[0].Role != "engineering" {
		t.Fatalf("tasks = %+v, want only engineering", got.Tasks)
	}
}

func TestSanitizePlanFiltersReservedIDs(t *testing.T) {
	p := testPlanner()
	plan := &models.Plan{Tasks: []models.Task{
		{ID: "Task-Context", Role: "qa", Description: "sneaky"},
		{ID: "TASK-DISCOVERY", Role: "qa", Description: "sneakier"},
		{ID: "t1", Role: "qa", Description: "real work"},
	}}
	got := p.SanitizePlan(plan, "request", false, p.AvailableRoles(), false, false)
	if len(got.Tasks) != 1 || got.Tasks[0].ID != "t1" {
		t.Fatalf("tasks = %+v, want reserved ids filtered", got.Tasks)
	}
}

func TestSanitizePlanNormalizesRoles(t *testing.T) {
	p := testPlanner()
	plan := &models.Plan{Tasks: []models.Task{
		{ID: "t1", Role: "  Engineering ", Description: "build"},
		{ID: "t2", Role: "pirate", Description: "argh"},
		{ID: "t3", Role: "", Description: "blank"},
	}}
	got := p.SanitizePlan(plan, "request", false, p.AvailableRoles(), false, false)
	if got.Tasks[0].Role != "engineering" {
		t.Errorf("role = %q, want engineering", got.Tasks[0].Role)
	}
	if got.Tasks[1].Role != "general" {
		t.Errorf("unknown role should fall back to general, got %q", got.Tasks[1].Role)
	}
	if got.Tasks[2].Role != "general" {
		t.Errorf("blank role should fall back to general, got %q", got.Tasks[2].Role)
	}
}

func TestSanitizePlanForcesImplementerWhenEditsRequired(t *testing.T) {
	p := testPlanner()
	plan := &models.Plan{Tasks: []models.Task{
		{ID: "t1", Role: "engineering", Description: "decide approach"},
	}}
	got := p.SanitizePlan(plan, "fix the bug", true, p.AvailableRoles(), false, false)
	last := got.Tasks[len(got.Tasks)-1]
	if last.ID != TaskIDImplementation || last.Role != models.RoleImplementer {
		t.Fatalf("last task = %+v, want forced implementer task", last)
	}
	if !strings.Contains(last.ExpectedOutput, "filesystem tools") {
		t.Errorf("implementer expected output should instruct file edits, got %q", last.ExpectedOutput)
	}
	// Non-implementer tasks never get the edit instruction.
	if strings.Contains(got.Tasks[0].ExpectedOutput, "filesystem tools") {
		t.Errorf("engineering task should not carry the edit instruction: %q", got.Tasks[0].ExpectedOutput)
	}
}

func TestSanitizePlanIdempotent(t *testing.T) {
	p := testPlanner()
	plan := &models.Plan{Objective: "obj", Tasks: []models.Task{
		{ID: "t1", Role: "Engineering", Description: "build the API"},
		{ID: "t2", Role: "qa", Description: "verify"},
	}}
	once := p.SanitizePlan(plan, "fix the code", true, p.AvailableRoles(), false, false)
	twice := p.SanitizePlan(&once, "fix the code", true, p.AvailableRoles(), false, false)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("sanitize not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestSanitizePlanNilFallsBackToDefault(t *testing.T) {
	p := testPlanner()
	got := p.SanitizePlan(nil, "answer the question", false, p.AvailableRoles(), false, false)
	if len(got.Tasks) != 1 || got.Tasks[0].ID != TaskIDFallback {
		t.Fatalf("plan = %+v, want single fallback task", got)
	}
	if got.Tasks[0].Role != "general" {
		t.Errorf("fallback role = %q, want general", got.Tasks[0].Role)
	}
}

func TestSanitizePlanNilAllowEmpty(t *testing.T) {
	p := testPlanner()
	got := p.SanitizePlan(nil, "request", false, p.AvailableRoles(), false, true)
	if !got.IsEmpty() {
		t.Fatalf("plan = %+v, want empty", got)
	}
	if got.Objective != "request" {
		t.Errorf("objective = %q", got.Objective)
	}
}

func TestDefaultPlanPrefersImplementerForEdits(t *testing.T) {
	p := testPlanner()
	got := p.SanitizePlan(nil, "fix the code", true, p.AvailableRoles(), false, false)
	if got.Tasks[0].Role != models.RoleImplementer {
		t.Fatalf("role = %q, want implementer", got.Tasks[0].Role)
	}
}

func TestRequiresFileEdits(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"", false},
		{"what does this code do?", false},
		{"please apply the changes we discussed", true},
		{"fix the bug in the api", true},
		{"can you update the config file", true},
		{"the weather is nice today", false},
		{"update everyone on the schedule", false},
		{"I admire the architecture of this repo", false},
		{"implement this", true},
		{"update the README.md", true},
		{"Please add a README section explaining setup", true},
		{"Tell me a story about a cat.", false},
	}
	for _, tc := range cases {
		if got := RequiresFileEdits(tc.message); got != tc.want {
			t.Errorf("RequiresFileEdits(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestAppendFileEditInstruction(t *testing.T) {
	withEdit := AppendFileEditInstruction("Do the thing.", true)
	if !strings.Contains(withEdit, "filesystem tools") {
		t.Errorf("edit instruction missing: %q", withEdit)
	}
	without := AppendFileEditInstruction("Do the thing.", false)
	if without != "Do the thing." {
		t.Errorf("read-only output should be unchanged, got %q", without)
	}
	blank := AppendFileEditInstruction("   ", false)
	if blank != DefaultExpectedOutput {
		t.Errorf("blank expected output should default, got %q", blank)
	}
}

func TestSelectedRolesFallback(t *testing.T) {
	p := testPlanner()
	roles := p.sanitizeSelectedRoles(nil, false)
	if !reflect.DeepEqual(roles, p.AvailableRoles()) {
		t.Fatalf("roles = %v, want full set", roles)
	}
}

func TestSelectedRolesEditsAddEngineeringAndImplementer(t *testing.T) {
	p := testPlanner()
	roles := p.sanitizeSelectedRoles([]string{"qa"}, true)
	if !contains(roles, models.RoleEngineering) || !contains(roles, models.RoleImplementer) {
		t.Fatalf("roles = %v, want engineering and implementer appended", roles)
	}
}

func TestSelectedRolesDropsUnknown(t *testing.T) {
	p := testPlanner()
	roles := p.sanitizeSelectedRoles([]string{"QA", "pirate", "qa"}, false)
	if !reflect.DeepEqual(roles, []string{"qa"}) {
		t.Fatalf("roles = %v, want [qa]", roles)
	}
}

func TestCollectFailuresAndRetryPlan(t *testing.T) {
	tasks := []models.Task{
		{ID: "t1", Role: "qa", Description: "verify"},
		{ID: "t2", Role: "engineering", Description: "build"},
	}
	results := []models.WorkerResult{
		{TaskID: "t1", Role: "qa", Output: "all good"},
		{TaskID: "t2", Role: "engineering", Output: models.WorkerFailedPrefix + "timeout after 90s"},
	}
	failures := CollectFailures(results, tasks)
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	if failures[0].Reason != "timeout after 90s" {
		t.Errorf("reason = %q", failures[0].Reason)
	}

	summary := BuildErrorSummary(failures)
	if !strings.Contains(summary, "[engineering t2]") {
		t.Errorf("summary = %q", summary)
	}

	retry := BuildRetryPlan("obj", failures)
	if len(retry.Tasks) != 1 || retry.Tasks[0].ID != "t2" {
		t.Fatalf("retry plan = %+v", retry)
	}
	if !strings.Contains(retry.Tasks[0].Description, "Retry and resolve error: timeout after 90s") {
		t.Errorf("retry description = %q", retry.Tasks[0].Description)
	}
}

func TestIsFailureOutput(t *testing.T) {
	cases := []struct {
		output string
		want   bool
	}{
		{"", false},
		{"done", false},
		{models.WorkerFailedPrefix + "boom", true},
		{"worker failed: boom", true},
		{"partial output with tool error: enoent inside", true},
	}
	for _, tc := range cases {
		if got := IsFailureOutput(tc.output); got != tc.want {
			t.Errorf("IsFailureOutput(%q) = %v, want %v", tc.output, got, tc.want)
		}
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"Here is the plan:\n```json\n{\"a\":1}\n```", `{"a":1}`},
		{"no json here", "no json here"},
	}
	for _, tc := range cases {
		if got := ExtractJSONObject(tc.raw); got != tc.want {
			t.Errorf("ExtractJSONObject(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	var selection models.RoleSelection
	err := DecodeJSON("role-selection", `prose {"roles":["qa","engineering"]} trailing`, &selection)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if !reflect.DeepEqual(selection.Roles, []string{"qa", "engineering"}) {
		t.Errorf("roles = %v", selection.Roles)
	}
	if err := DecodeJSON("plan", "not json", &selection); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestBuildResultsContext(t *testing.T) {
	results := []models.WorkerResult{
		{TaskID: "t1", Role: "qa", Output: "verified"},
		{TaskID: "t2", Role: "engineering", Output: "built"},
	}
	got := BuildResultsContext(results)
	if !strings.Contains(got, "[qa - t1]\nverified") {
		t.Errorf("context = %q", got)
	}
	if BuildResultsContext(nil) != "" {
		t.Error("empty results should yield empty context")
	}
}

func TestMergeContexts(t *testing.T) {
	if got := MergeContexts("", "b"); got != "b" {
		t.Errorf("got %q", got)
	}
	if got := MergeContexts("a", ""); got != "a" {
		t.Errorf("got %q", got)
	}
	if got := MergeContexts("a", "b"); got != "a\n\nb" {
		t.Errorf("got %q", got)
	}
}

func TestDefaultContext(t *testing.T) {
	if got := DefaultContext("  "); got != "None." {
		t.Errorf("got %q", got)
	}
	if got := DefaultContext("ctx"); got != "ctx" {
		t.Errorf("got %q", got)
	}
}

func TestSyntheticTasks(t *testing.T) {
	p := testPlanner()
	discovery := p.DiscoveryTask()
	if discovery.ID != TaskIDDiscovery || discovery.Role != models.RoleAnalysis {
		t.Errorf("discovery = %+v", discovery)
	}
	if _, ok := p.AnalysisTask([]string{"qa"}); ok {
		t.Error("analysis task should require the analysis role")
	}
	analysis, ok := p.AnalysisTask([]string{"analysis", "qa"})
	if !ok || analysis.ID != TaskIDAnalysis {
		t.Errorf("analysis = %+v ok=%v", analysis, ok)
	}
	sync := p.ContextSyncTask([]string{"qa"})
	if sync.Role != models.RoleGeneral {
		t.Errorf("context-sync role = %q, want general fallback", sync.Role)
	}
}
