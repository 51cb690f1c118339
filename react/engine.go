package react

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tiammomo/ShuaiTravelAgent/llm"
	"github.com/tiammomo/ShuaiTravelAgent/log"
	"github.com/tiammomo/ShuaiTravelAgent/tool"
)

// DefaultMaxSteps bounds a Run when the caller does not override it.
const DefaultMaxSteps = 10

// paramAliases maps an alias parameter name to the canonical name the
// registered tools expect.
var paramAliases = map[string]string{
	"city":        "cities",
	"destination": "cities",
	"location":    "cities",
}

// Engine runs the bounded ReAct loop against a shared Tool Registry,
// optionally consulting an LLM client for planning and named-terminal
// tool detection. Not safe for concurrent Run calls on the same Engine;
// a Session's Orchestrator serialises ReAct iterations per instance.
type Engine struct {
	registry      *tool.Registry
	llmClient     *llm.Client
	maxSteps      int
	terminalTools map[string]bool
	knownCities   []string

	mu               sync.Mutex
	thoughtCallbacks []ThoughtCallback
	actionCallbacks  []ActionCallback
	thinkStream      ThinkStreamCallback
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithLLMClient wires an LLM client for the LLM planning path; without
// one, every Run uses the rule-based planner exclusively.
func WithLLMClient(client *llm.Client) Option {
	return func(e *Engine) { e.llmClient = client }
}

// WithTerminalTools overrides the default terminal-tool set used by the
// should-stop test's condition (a).
func WithTerminalTools(names map[string]bool) Option {
	return func(e *Engine) { e.terminalTools = names }
}

// WithKnownCities feeds the rule-based entity extractor a city
// gazetteer to match against free text.
func WithKnownCities(cities []string) Option {
	return func(e *Engine) { e.knownCities = cities }
}

// New creates an Engine bound to registry.
func New(registry *tool.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:      registry,
		maxSteps:      DefaultMaxSteps,
		terminalTools: map[string]bool{"llm_chat": true, "search_or_recommend": true, "route_or_plan": true},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterTool passes a tool registration through to the shared
// registry.
func (e *Engine) RegisterTool(info tool.Info, executor tool.Executor) bool {
	return e.registry.Register(info, executor)
}

// Registry exposes the underlying Tool Registry so that other
// components sharing this Engine's tool set (e.g. the orchestrator's
// Plan mode, which executes steps directly rather than through the
// ReAct loop) can dispatch tool calls against the same instance.
func (e *Engine) Registry() *tool.Registry {
	return e.registry
}

// AddThoughtCallback subscribes fn to every Thought the engine produces.
func (e *Engine) AddThoughtCallback(fn ThoughtCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thoughtCallbacks = append(e.thoughtCallbacks, fn)
}

// AddActionCallback subscribes fn to every Action lifecycle transition.
func (e *Engine) AddActionCallback(fn ActionCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actionCallbacks = append(e.actionCallbacks, fn)
}

// SetThinkStreamCallback installs (or clears, with nil) the single
// think-stream callback.
func (e *Engine) SetThinkStreamCallback(fn ThinkStreamCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thinkStream = fn
}

// Reset clears every callback the engine holds. Run itself keeps no
// state across calls, so Reset only needs to forget subscribers.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thoughtCallbacks = nil
	e.actionCallbacks = nil
	e.thinkStream = nil
}

func (e *Engine) emitThought(t *Thought) {
	e.mu.Lock()
	callbacks := append([]ThoughtCallback(nil), e.thoughtCallbacks...)
	e.mu.Unlock()
	for _, cb := range callbacks {
		cb(t)
	}
}

func (e *Engine) emitAction(a *Action) {
	e.mu.Lock()
	callbacks := append([]ActionCallback(nil), e.actionCallbacks...)
	e.mu.Unlock()
	for _, cb := range callbacks {
		cb(a)
	}
}

func (e *Engine) emitThinkStream(content string, elapsed float64) {
	e.mu.Lock()
	cb := e.thinkStream
	e.mu.Unlock()
	if cb != nil {
		cb(content, elapsed)
	}
}

// Run executes the bounded Think/Act/Observe/Evaluate/Record loop over
// task, honouring ctx cancellation between iterations and during tool
// execution.
func (e *Engine) Run(ctx context.Context, task string, taskContext map[string]any) RunResult {
	start := time.Now()
	result := RunResult{Task: task}

	var lastAction *Action
	var decision []PlannedStep

	for step := 0; step < e.maxSteps; step++ {
		iterStart := time.Now()

		select {
		case <-ctx.Done():
			result.Success = false
			result.Error = ctx.Err().Error()
			result.TotalDurationMs = time.Since(start).Milliseconds()
			return result
		default:
		}

		thought := e.think(ctx, task, step, lastAction, decision)
		if thought.Type == ThoughtPlanning {
			decision = thought.Decision
		}
		e.emitThought(thought)
		e.emitThinkStream(thought.Content, time.Since(iterStart).Seconds())

		shouldStop, stopSuccess := e.shouldStop(step, lastAction, thought, decision)
		if shouldStop {
			if lastAction != nil {
				result.Success = stopSuccess
			} else {
				result.Success = true
			}
			result.StepsCompleted = step
			break
		}

		action := e.act(ctx, step, decision, taskContext)
		lastAction = action

		evaluation := &Evaluation{
			Success:    action.Status == ActionSucceeded,
			DurationMs: time.Since(iterStart).Milliseconds(),
			HasResult:  len(action.Result) > 0,
		}
		if evaluation.Success {
			result.SuccessfulSteps++
		}

		result.History = append(result.History, HistoryEntry{
			Step:       step,
			Thought:    thought,
			Action:     action,
			Evaluation: evaluation,
			Timestamp:  time.Now(),
		})
		result.StepsCompleted = step + 1
	}

	result.TotalDurationMs = time.Since(start).Milliseconds()
	return result
}

// think runs the Think phase: a single Planning thought on the first
// iteration (no separate Analysis thought is produced), Reflection/
// Inference thereafter.
func (e *Engine) think(ctx context.Context, task string, step int, lastAction *Action, decision []PlannedStep) *Thought {
	if step == 0 {
		if steps, ok := planLLM(ctx, e.llmClient, task); ok {
			decision = steps
		} else {
			decision = planRule(task, e.knownCities)
		}
		return &Thought{
			Type:       ThoughtPlanning,
			Content:    fmt.Sprintf("Planned %d step(s) for: %s", len(decision), task),
			Confidence: 0.8,
			Decision:   decision,
		}
	}

	if lastAction != nil && lastAction.Status == ActionFailed {
		return &Thought{
			Type:       ThoughtReflection,
			Content:    fmt.Sprintf("Action %q failed: %s. Reconsidering.", lastAction.Tool, lastAction.Error),
			Confidence: 0.5,
		}
	}
	if lastAction != nil && lastAction.Status == ActionSucceeded {
		return &Thought{
			Type:       ThoughtInference,
			Content:    summariseResult(lastAction),
			Confidence: 0.85,
		}
	}
	return &Thought{Type: ThoughtInference, Content: "Continuing.", Confidence: 0.6}
}

// summariseResult produces a shape-aware one-line summary of a
// succeeded action's result, recognising the conventional keys
// `cities`, `route_plan`, `response`, `info`.
func summariseResult(a *Action) string {
	if a.Result == nil {
		return fmt.Sprintf("%s completed with no result.", a.Tool)
	}
	if cities, ok := a.Result["cities"].([]map[string]any); ok {
		return fmt.Sprintf("Found %d candidate cities.", len(cities))
	}
	if plan, ok := a.Result["route_plan"].([]map[string]any); ok {
		return fmt.Sprintf("Built a %d-day route plan.", len(plan))
	}
	if info, ok := a.Result["info"].([]map[string]any); ok {
		return fmt.Sprintf("Retrieved info for %d cities.", len(info))
	}
	if resp, ok := a.Result["response"].(string); ok && resp != "" {
		return "Got a direct response."
	}
	return fmt.Sprintf("%s completed.", a.Tool)
}

// shouldStop is a three-way disjunction: a succeeded terminal-tool
// action, a high-confidence succeeded action with a non-empty plan, or
// the step budget running out.
func (e *Engine) shouldStop(step int, lastAction *Action, thought *Thought, decision []PlannedStep) (stop bool, success bool) {
	if lastAction != nil && e.terminalTools[lastAction.Tool] && lastAction.Status == ActionSucceeded {
		return true, true
	}
	if thought.Confidence > 0.9 && len(decision) > 0 && lastAction != nil && lastAction.Status == ActionSucceeded {
		return true, true
	}
	if step >= e.maxSteps-1 {
		success := lastAction == nil || lastAction.Status == ActionSucceeded
		return true, success
	}
	return false, false
}

// act extracts the step-index-th planned step, resolves parameter
// aliases, and dispatches through the Tool Registry.
func (e *Engine) act(ctx context.Context, step int, decision []PlannedStep, taskContext map[string]any) *Action {
	if step >= len(decision) {
		return &Action{Tool: "noop", Status: ActionSucceeded, Result: tool.Output{"success": true}}
	}

	planned := decision[step]
	params := resolveParamAliases(planned.Params)
	for k, v := range taskContext {
		if _, exists := params[k]; !exists {
			params[k] = v
		}
	}

	action := &Action{Tool: planned.Action, Params: params, Status: ActionRunning}
	e.emitAction(action)

	out, err := e.registry.Execute(ctx, planned.Action, tool.Params(params))
	if err != nil {
		action.Status = ActionFailed
		action.Error = err.Error()
		log.Warnf("react: action %q failed: %v", planned.Action, err)
	} else {
		action.Status = ActionSucceeded
		action.Result = out
	}
	e.emitAction(action)
	return action
}

// resolveParamAliases rewrites alias parameter keys to their canonical
// form, promoting a scalar value to a single-element list when the
// canonical parameter is list-shaped (e.g. cities).
func resolveParamAliases(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		canonical, isAlias := paramAliases[k]
		if !isAlias {
			out[k] = v
			continue
		}
		if s, ok := v.(string); ok {
			out[canonical] = []string{s}
		} else {
			out[canonical] = v
		}
	}
	return out
}
