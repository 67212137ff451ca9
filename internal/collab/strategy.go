// Package collab implements multi-agent collaboration for a single task:
// strategies describe the stages of a round, the runner fans agents out per
// stage and folds their outputs into a summary that feeds the next stage.
package collab

import (
	"fmt"
	"strings"
)

// Strategy names a collaboration protocol. Values match the configuration
// strings accepted in role execution settings.
type Strategy string

const (
	// StrategySimpleSummary runs one stage and summarizes the outputs.
	StrategySimpleSummary Strategy = "simple-summary"
	// StrategyProposalVote collects proposals, then structured votes.
	StrategyProposalVote Strategy = "proposal-vote"
	// StrategyTwoRoundConverge collects proposals, then merges them.
	StrategyTwoRoundConverge Strategy = "two-round-converge"
	// StrategyScorecardRanking collects proposals, then scores and ranks them.
	StrategyScorecardRanking Strategy = "scorecard-ranking"
)

// ParseStrategy maps a configuration string to a Strategy, defaulting to
// simple summary for unknown or empty values.
func ParseStrategy(name string) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(name))) {
	case StrategyProposalVote:
		return StrategyProposalVote
	case StrategyTwoRoundConverge:
		return StrategyTwoRoundConverge
	case StrategyScorecardRanking:
		return StrategyScorecardRanking
	default:
		return StrategySimpleSummary
	}
}

// Label returns the human-readable strategy name used in prompts.
func (s Strategy) Label() string {
	switch s {
	case StrategyProposalVote:
		return "Proposal + structured vote"
	case StrategyTwoRoundConverge:
		return "Two-round converge"
	case StrategyScorecardRanking:
		return "Scorecard ranking"
	default:
		return "Simple summary"
	}
}

// Stage is one step of a collaboration round.
type Stage struct {
	// Key is the short stage identifier used in sub-task ids.
	Key string
	// Label names the stage in prompts and descriptions.
	Label string
	// expectedOutputTemplate overrides the task's expected output; "%s" is
	// replaced with the sub-task id. Empty keeps the task's own.
	expectedOutputTemplate string
	// SummaryInstruction steers the stage summary call.
	SummaryInstruction string
	// AllowEdits marks whether agents in this stage may perform file edits.
	AllowEdits bool
}

// ExpectedOutput resolves the expected output for one sub-task.
func (s Stage) ExpectedOutput(subTaskID, base string) string {
	if strings.TrimSpace(s.expectedOutputTemplate) == "" {
		return base
	}
	if strings.Contains(s.expectedOutputTemplate, "%s") {
		return fmt.Sprintf(s.expectedOutputTemplate, subTaskID)
	}
	return s.expectedOutputTemplate
}

const proposalOutputTemplate = `Return JSON only.

{
  "proposal_id": "%s",
  "summary": "...",
  "changes": ["..."],
  "files": ["..."],
  "tests": ["..."],
  "risks": ["..."]
}

Do not edit files.`

const voteOutputTemplate = `Return JSON only.

{
  "voter_id": "%s",
  "votes": [
    {"proposal_id": "...", "vote": "approve|block", "reason": "..."}
  ],
  "notes": "..."
}

Do not edit files.`

const scorecardOutputTemplate = `Return JSON only.

{
  "scorer_id": "%s",
  "scores": [
    {"proposal_id": "...", "correctness": 1-5, "scope": 1-5, "risk": 1-5, "effort": 1-5, "notes": "..."}
  ],
  "overall_pick": "proposal_id"
}

Do not edit files.`

const convergeOutputTemplate = `Provide a converged plan with final changes, files, tests, and risks.
Do not edit files.`

var (
	simpleSummaryStage = Stage{
		Key:        "summary",
		Label:      "Summary",
		AllowEdits: true,
	}

	proposalStage = Stage{
		Key:                    "proposal",
		Label:                  "Proposal",
		expectedOutputTemplate: proposalOutputTemplate,
		SummaryInstruction: `Summarize proposals into a compact canonical list.
Preserve proposal_id values and key details.
Output JSON: {"proposals":[{"proposal_id":"...","summary":"...","changes":[...],"files":[...],"tests":[...],"risks":[...]}]}.`,
	}

	voteStage = Stage{
		Key:                    "vote",
		Label:                  "Vote",
		expectedOutputTemplate: voteOutputTemplate,
		SummaryInstruction: `Tally votes, identify the winning proposal, and explain why it won.
Provide the final handoff output using the role schema when available.
Reflect the winning proposal details within the handoff fields (changes, files, tests, risks).`,
	}

	convergeStage = Stage{
		Key:                    "converge",
		Label:                  "Converge",
		expectedOutputTemplate: convergeOutputTemplate,
		SummaryInstruction: `Merge the best ideas into a single converged plan.
Provide the final plan with changes, files, tests, and risks.
If a handoff schema is provided, output must match it.`,
	}

	scorecardStage = Stage{
		Key:                    "scorecard",
		Label:                  "Scorecard",
		expectedOutputTemplate: scorecardOutputTemplate,
		SummaryInstruction: `Aggregate scorecards, rank proposals by average score, and pick the top option.
Provide the final handoff output using the role schema when available.
Reflect the winning proposal details within the handoff fields (changes, files, tests, risks).`,
	}
)

// StagesFor returns the ordered stages of one round for a strategy.
func StagesFor(strategy Strategy) []Stage {
	switch strategy {
	case StrategyProposalVote:
		return []Stage{proposalStage, voteStage}
	case StrategyTwoRoundConverge:
		return []Stage{proposalStage, convergeStage}
	case StrategyScorecardRanking:
		return []Stage{proposalStage, scorecardStage}
	default:
		return []Stage{simpleSummaryStage}
	}
}
