// Package orchestrator implements the Travel Agent Orchestrator: the
// three selectable run modes (Direct, ReAct, Plan) that sit between a
// Session's Memory and its owned react.Engine and llm.Client. Each mode
// drives the same three callbacks (Answer, Done, Thinking) so callers
// never need to branch on which mode is running.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tiammomo/ShuaiTravelAgent/llm"
	"github.com/tiammomo/ShuaiTravelAgent/log"
	"github.com/tiammomo/ShuaiTravelAgent/memory"
	"github.com/tiammomo/ShuaiTravelAgent/react"
	"github.com/tiammomo/ShuaiTravelAgent/telemetry"
	"github.com/tiammomo/ShuaiTravelAgent/tool"
)

// Mode selects which of the three entry points Run dispatches to.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeReAct  Mode = "react"
	ModePlan   Mode = "plan"
)

// tokenYield is the asynchronous pacing delay inserted between
// streamed answer tokens.
const tokenYield = 10 * time.Millisecond

// Callbacks are the three optional hooks a Run invocation may supply.
// The orchestrator never calls Answer again until a prior call returns,
// which is what makes the bi-queue fan-in in agentsvc safe.
type Callbacks struct {
	Answer   func(token string)
	Done     func(result DoneResult)
	Thinking func(content string, elapsedSeconds float64)
}

// DoneResult is the single terminal record passed to Callbacks.Done.
type DoneResult struct {
	Success     bool   `json:"success"`
	Mode        Mode   `json:"mode"`
	Answer      string `json:"answer"`
	Error       string `json:"error,omitempty"`
	RenderedMD  string `json:"rendered_markdown,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// Orchestrator exclusively owns one ReAct engine and one LLM client.
type Orchestrator struct {
	engine       *react.Engine
	llmClient    *llm.Client
	systemPrompt string
}

// New builds an Orchestrator. systemPrompt seeds Direct mode's fixed
// prompt and Plan/ReAct's synthesis prompts.
func New(engine *react.Engine, llmClient *llm.Client, systemPrompt string) *Orchestrator {
	return &Orchestrator{engine: engine, llmClient: llmClient, systemPrompt: systemPrompt}
}

func callThinking(cb Callbacks, content string, elapsed float64) {
	if cb.Thinking != nil {
		cb.Thinking(content, elapsed)
	}
}

func callAnswer(ctx context.Context, cb Callbacks, token string) {
	if cb.Answer != nil {
		cb.Answer(token)
	}
	select {
	case <-time.After(tokenYield):
	case <-ctx.Done():
	}
}

func callDone(cb Callbacks, result DoneResult) {
	if cb.Done != nil {
		cb.Done(result)
	}
}

// Run dispatches to the selected mode. mem carries conversation history
// and user preference for prompt construction; it is not mutated here
// (the caller is expected to record the assistant's reply itself).
func (o *Orchestrator) Run(ctx context.Context, mode Mode, task string, mem *memory.Memory, cb Callbacks) {
	ctx, span := telemetry.Tracer.Start(ctx, "orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("orchestrator.mode", string(mode)))

	start := time.Now()
	switch mode {
	case ModeDirect:
		o.runDirect(ctx, task, mem, cb, start)
	case ModePlan:
		o.runPlan(ctx, task, mem, cb, start)
	default:
		o.runReAct(ctx, task, mem, cb, start)
	}
}

func (o *Orchestrator) history(mem *memory.Memory) []llm.Message {
	if mem == nil {
		return nil
	}
	msgs := mem.History()
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// runDirect issues one streaming LLM call with a fixed system prompt,
// no tool use.
func (o *Orchestrator) runDirect(ctx context.Context, task string, mem *memory.Memory, cb Callbacks, start time.Time) {
	callThinking(cb, "Direct mode", time.Since(start).Seconds())

	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: o.systemPrompt}}, o.history(mem)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: task})

	answer, renderedMD := o.streamAnswer(ctx, messages, cb)
	callDone(cb, DoneResult{
		Success:    answer != "",
		Mode:       ModeDirect,
		Answer:     answer,
		RenderedMD: renderedMD,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// runReAct drives the ReAct engine to completion, then synthesises a
// final answer with one more streaming LLM call over the system prompt,
// the session history and the task; the ReAct run's own history is not
// included in that call.
func (o *Orchestrator) runReAct(ctx context.Context, task string, mem *memory.Memory, cb Callbacks, start time.Time) {
	o.engine.SetThinkStreamCallback(func(content string, elapsed float64) {
		callThinking(cb, content, elapsed)
	})
	defer o.engine.SetThinkStreamCallback(nil)

	runResult := o.engine.Run(ctx, task, preferenceContext(mem))

	if !runResult.Success {
		callDone(cb, DoneResult{
			Success:    false,
			Mode:       ModeReAct,
			Error:      runResult.Error,
			DurationMs: time.Since(start).Milliseconds(),
		})
		return
	}

	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: o.systemPrompt}}, o.history(mem)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: task})
	answer, renderedMD := o.streamAnswer(ctx, messages, cb)
	callDone(cb, DoneResult{
		Success:    answer != "",
		Mode:       ModeReAct,
		Answer:     answer,
		RenderedMD: renderedMD,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// planDocument is the JSON shape the Plan-mode LLM call is asked to
// produce.
type planDocument struct {
	Steps []struct {
		Step        int            `json:"step"`
		Action      string         `json:"action"`
		Params      map[string]any `json:"params"`
		Description string         `json:"description"`
	} `json:"steps"`
	EstimatedTime string `json:"estimated_time"`
}

// runPlan issues one unary LLM call to produce a JSON plan, executes
// each step sequentially via the engine's Tool Registry, then
// summarises execution with a second LLM call made through ChatStream
// (not the unary Chat) and delivered via streamAnswer. Plan mode never touches the ReAct engine's loop itself.
func (o *Orchestrator) runPlan(ctx context.Context, task string, mem *memory.Memory, cb Callbacks, start time.Time) {
	callThinking(cb, "Building plan", time.Since(start).Seconds())

	doc, ok := o.requestPlan(ctx, task)
	if !ok {
		callDone(cb, DoneResult{Success: false, Mode: ModePlan, Error: "plan: could not parse a plan", DurationMs: time.Since(start).Milliseconds()})
		return
	}

	var summaries []string
	for _, step := range doc.Steps {
		callThinking(cb, fmt.Sprintf("Step %d: %s", step.Step, step.Description), time.Since(start).Seconds())
		out, err := o.engine.Registry().Execute(ctx, step.Action, tool.Params(step.Params))
		if err != nil {
			summaries = append(summaries, fmt.Sprintf("%s failed: %v", step.Action, err))
			continue
		}
		summaries = append(summaries, fmt.Sprintf("%s: %v", step.Action, out))
	}

	synthesisPrompt := fmt.Sprintf("User asked: %s\nExecution log:\n%s\nWrite a concise final answer.", task, strings.Join(summaries, "\n"))
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: o.systemPrompt},
		{Role: llm.RoleUser, Content: synthesisPrompt},
	}
	answer, renderedMD := o.streamAnswer(ctx, messages, cb)
	callDone(cb, DoneResult{
		Success:    answer != "",
		Mode:       ModePlan,
		Answer:     answer,
		RenderedMD: renderedMD,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

func (o *Orchestrator) requestPlan(ctx context.Context, task string) (*planDocument, bool) {
	if o.llmClient == nil {
		return nil, false
	}
	prompt := fmt.Sprintf(`Produce a JSON plan for this travel request. Shape: {"steps":[{"step":1,"action":"tool_name","params":{},"description":"..."}],"estimated_time":"..."}. Request: %s`, task)
	result, err := o.llmClient.Chat(ctx, []llm.Message{{Role: llm.RoleSystem, Content: prompt}}, llm.CallOptions{})
	if err != nil || result == nil || !result.Success {
		return nil, false
	}

	var doc planDocument
	if err := json.Unmarshal([]byte(result.Content), &doc); err == nil && len(doc.Steps) > 0 {
		return &doc, true
	}
	return nil, false
}

// streamAnswer runs a streaming LLM call and buffers the full response
// before delivering any of it, since whether the final answer is the
// structured {opening, cities, tips} shape can only be decided once the
// response is complete. The buffered text is run through the same
// direct -> fenced-block -> brace-balanced fallback ladder react's
// planner uses for plan JSON; a match is rendered to Markdown via
// renderStructuredAnswerMarkdown and validated with goldmark.Convert,
// otherwise the raw response text is used unchanged. A rendered answer
// is forwarded through cb.Answer in fixed-size chunks; raw text is
// forwarded as the tokens the LLM sent, in order. Returns the delivered text and, when a
// structured match was rendered, its goldmark-converted HTML.
func (o *Orchestrator) streamAnswer(ctx context.Context, messages []llm.Message, cb Callbacks) (answer string, renderedHTML string) {
	if o.llmClient == nil {
		return "", ""
	}
	tokens, err := o.llmClient.ChatStream(ctx, messages, llm.CallOptions{})
	if err != nil {
		log.Errorf("orchestrator: stream request failed: %v", err)
		return "", ""
	}

	var sb strings.Builder
	var received []string
	for tok := range tokens {
		sb.WriteString(tok)
		received = append(received, tok)
	}
	content := sb.String()
	if content == "" {
		return "", ""
	}

	text := content
	chunks := received
	if doc, ok := extractStructuredFinalAnswer(content); ok {
		text = renderStructuredAnswerMarkdown(*doc)
		chunks = tokenizeForStreaming(text)
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(text), &buf); err != nil {
			log.Warnf("orchestrator: structured answer failed markdown validation: %v", err)
		} else {
			renderedHTML = buf.String()
		}
	}

	for _, chunk := range chunks {
		callAnswer(ctx, cb, chunk)
	}
	return text, renderedHTML
}

// structuredFinalAnswer is the shape a final-answer LLM call may return
// instead of free-form prose; streamAnswer detects and renders it to
// Markdown rather than streaming the raw JSON to the caller.
type structuredFinalAnswer struct {
	Opening string `json:"opening"`
	Cities  []struct {
		Name        string `json:"name"`
		Emoji       string `json:"emoji"`
		Days        int    `json:"days"`
		Budget      string `json:"budget"`
		Season      string `json:"season"`
		Attractions []struct {
			Name        string `json:"name"`
			Type        string `json:"type"`
			Ticket      string `json:"ticket"`
			Description string `json:"description"`
		} `json:"attractions"`
	} `json:"cities"`
	Tips string `json:"tips"`
}

// answerFencedJSONPattern matches a ```json fenced block, mirroring the
// fallback ladder react's planner applies to plan JSON.
var answerFencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// answerBalancedBraceSubstring returns the first brace-balanced `{...}`
// substring of s, or "" if s has no balanced object.
func answerBalancedBraceSubstring(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// extractStructuredFinalAnswer attempts to parse content as a
// structuredFinalAnswer, trying the raw text first, then a fenced
// ```json block, then the first brace-balanced substring — the same
// direct/fenced/brace-regex ladder react's planner uses to recover plan
// JSON that an LLM wrapped in prose or Markdown fencing.
func extractStructuredFinalAnswer(content string) (*structuredFinalAnswer, bool) {
	candidates := []string{content}
	if m := answerFencedJSONPattern.FindStringSubmatch(content); m != nil {
		candidates = append(candidates, m[1])
	}
	if brace := answerBalancedBraceSubstring(content); brace != "" {
		candidates = append(candidates, brace)
	}

	for _, c := range candidates {
		var doc structuredFinalAnswer
		if err := json.Unmarshal([]byte(c), &doc); err != nil {
			continue
		}
		if doc.Opening == "" && len(doc.Cities) == 0 && doc.Tips == "" {
			continue
		}
		return &doc, true
	}
	return nil, false
}

func renderStructuredAnswerMarkdown(doc structuredFinalAnswer) string {
	var sb strings.Builder
	if doc.Opening != "" {
		sb.WriteString(doc.Opening)
		sb.WriteString("\n\n")
	}
	for _, city := range doc.Cities {
		sb.WriteString(fmt.Sprintf("## %s %s\n", city.Emoji, city.Name))
		if city.Days > 0 {
			sb.WriteString(fmt.Sprintf("- 建议天数: %d\n", city.Days))
		}
		if city.Budget != "" {
			sb.WriteString(fmt.Sprintf("- 预算: %s\n", city.Budget))
		}
		if city.Season != "" {
			sb.WriteString(fmt.Sprintf("- 季节: %s\n", city.Season))
		}
		for _, a := range city.Attractions {
			sb.WriteString(fmt.Sprintf("- **%s** (%s, %s): %s\n", a.Name, a.Type, a.Ticket, a.Description))
		}
		sb.WriteString("\n")
	}
	if doc.Tips != "" {
		sb.WriteString("> " + doc.Tips + "\n")
	}
	return sb.String()
}

// tokenizeForStreaming splits rendered Markdown into small chunks so a
// structured answer still streams through the answer callback like a
// genuine LLM response, rather than arriving as one frame.
func tokenizeForStreaming(text string) []string {
	const chunkSize = 24
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// preferenceContext turns a session's accumulated UserPreference into
// the free-form context map the ReAct engine's Act phase merges into
// tool parameters.
func preferenceContext(mem *memory.Memory) map[string]any {
	if mem == nil {
		return nil
	}
	pref := mem.Preference()
	ctx := map[string]any{}
	if pref.Budget != nil {
		ctx["budget_min"] = pref.Budget.Min
		ctx["budget_max"] = pref.Budget.Max
	}
	if pref.Season != "" {
		ctx["season"] = pref.Season
	}
	if len(pref.InterestTags) > 0 {
		ctx["interests"] = pref.InterestTags
	}
	return ctx
}
