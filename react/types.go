// Package react implements a bounded Think/Act/Observe/Evaluate/Record
// loop over the shared Tool Registry, with a rule-based planner backed
// by an optional LLM-based planner.
package react

import (
	"time"

	"github.com/tiammomo/ShuaiTravelAgent/tool"
)

// ThoughtType classifies a Thought's role in the loop.
type ThoughtType string

const (
	ThoughtAnalysis   ThoughtType = "analysis"
	ThoughtPlanning   ThoughtType = "planning"
	ThoughtReflection ThoughtType = "reflection"
	ThoughtInference  ThoughtType = "inference"
)

// PlannedStep is one entry of a Planning thought's decision list.
type PlannedStep struct {
	Step   int            `json:"step"`
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// Thought is the product of one Think phase.
type Thought struct {
	Type       ThoughtType   `json:"type"`
	Content    string        `json:"content"`
	Confidence float64       `json:"confidence"`
	Decision   []PlannedStep `json:"decision,omitempty"`
}

// ActionStatus is the lifecycle state of an Action.
type ActionStatus string

const (
	ActionRunning   ActionStatus = "running"
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
)

// Action is one Tool Registry invocation attempted by the loop.
type Action struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
	Status ActionStatus   `json:"status"`
	Result tool.Output    `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Evaluation summarises one iteration's outcome.
type Evaluation struct {
	Success    bool  `json:"success"`
	DurationMs int64 `json:"duration_ms"`
	HasResult  bool  `json:"has_result"`
}

// HistoryEntry is one recorded iteration.
type HistoryEntry struct {
	Step       int         `json:"step"`
	Thought    *Thought    `json:"thought"`
	Action     *Action     `json:"action"`
	Evaluation *Evaluation `json:"evaluation"`
	Timestamp  time.Time   `json:"timestamp"`
}

// RunResult is the outcome of a complete Run.
type RunResult struct {
	Success          bool           `json:"success"`
	Task             string         `json:"task"`
	StepsCompleted   int            `json:"steps_completed"`
	SuccessfulSteps  int            `json:"successful_steps"`
	TotalDurationMs  int64          `json:"total_duration_ms"`
	History          []HistoryEntry `json:"history"`
	Error            string         `json:"error,omitempty"`
}

// ThoughtCallback observes every Thought produced during a run.
type ThoughtCallback func(t *Thought)

// ActionCallback observes an Action's lifecycle transitions: once when
// it starts Running, and again on its terminal Succeeded/Failed state.
type ActionCallback func(a *Action)

// ThinkStreamCallback is invoked once per iteration immediately after
// the Thought is produced, with its textual content and the wall-clock
// seconds elapsed since the iteration began. It is the only synchronous
// coupling point between the engine and a caller streaming output.
type ThinkStreamCallback func(content string, elapsedSeconds float64)
