package react

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tiammomo/ShuaiTravelAgent/llm"
)

type taskBucket string

const (
	bucketRecommendation taskBucket = "recommendation"
	bucketQuery          taskBucket = "query"
	bucketPlanning       taskBucket = "planning"
	bucketChat           taskBucket = "chat"
)

// recommendationKeywords/queryKeywords/planningKeywords bucket free
// text into the four intents the rule-based planning path recognises.
var (
	recommendationKeywords = []string{"推荐", "建议", "哪些城市", "去哪", "推荐一下", "recommend", "suggest", "which city"}
	queryKeywords           = []string{"查询", "了解", "景点", "好玩", "门票", "look up", "info", "search"}
	planningKeywords        = []string{"规划", "计划", "安排", "攻略", "行程", "路线", "旅游", "旅行", "itinerary", "route", "plan", "trip", "visit"}
)

var (
	daysEntityPattern   = regexp.MustCompile(`(\d+)\s*天`)
	budgetEntityPattern = regexp.MustCompile(`(\d+)\s*元`)
)

// classifyTask buckets free text by keyword match, recommendation
// taking priority over query, then planning, defaulting to chat.
func classifyTask(task string) taskBucket {
	switch {
	case containsAnyKeyword(task, recommendationKeywords):
		return bucketRecommendation
	case containsAnyKeyword(task, queryKeywords):
		return bucketQuery
	case containsAnyKeyword(task, planningKeywords):
		return bucketPlanning
	default:
		return bucketChat
	}
}

func containsAnyKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(text, kw) || strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// extractedEntities holds the regex-derived entities the rule-based
// planner needs to fill tool parameters.
type extractedEntities struct {
	Days      int
	BudgetMax int
	City      string
}

// extractEntities pulls a day count, a budget ceiling, and a city name
// (by longest-match lookup against known) out of free text.
func extractEntities(task string, knownCities []string) extractedEntities {
	var e extractedEntities
	if m := daysEntityPattern.FindStringSubmatch(task); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			e.Days = n
		}
	}
	if m := budgetEntityPattern.FindStringSubmatch(task); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			e.BudgetMax = n
		}
	}

	best := ""
	for _, city := range knownCities {
		if strings.Contains(task, city) && len(city) > len(best) {
			best = city
		}
	}
	e.City = best
	return e
}

// planRule is the rule-based planning path: bucket the task, extract
// entities, and emit one action per the fixed bucket->action table.
func planRule(task string, knownCities []string) []PlannedStep {
	bucket := classifyTask(task)
	entities := extractEntities(task, knownCities)

	switch bucket {
	case bucketRecommendation:
		return []PlannedStep{{
			Step:   0,
			Action: "search_or_recommend",
			Params: map[string]any{
				"budget_max": entities.BudgetMax,
			},
		}}
	case bucketQuery:
		if entities.City == "" {
			return []PlannedStep{{Step: 0, Action: "llm_chat", Params: map[string]any{"query": task}}}
		}
		return []PlannedStep{{
			Step:   0,
			Action: "city_info_or_attractions",
			Params: map[string]any{"cities": []string{entities.City}},
		}}
	case bucketPlanning:
		days := entities.Days
		if days == 0 {
			days = 3
		}
		cities := []string{}
		if entities.City != "" {
			cities = append(cities, entities.City)
		}
		return []PlannedStep{{
			Step:   0,
			Action: "route_or_plan",
			Params: map[string]any{"cities": cities, "days": days},
		}}
	default:
		return []PlannedStep{{Step: 0, Action: "llm_chat", Params: map[string]any{"query": task}}}
	}
}

// llmPlanResponse is the JSON shape requested of the LLM planning
// prompt.
type llmPlanResponse struct {
	Reasoning string `json:"reasoning"`
	Steps     []struct {
		Action    string         `json:"action"`
		Params    map[string]any `json:"params"`
		Reasoning string         `json:"reasoning"`
	} `json:"steps"`
}

const planningSystemPromptTemplate = `You are the travel agent's task planner. Available tools:
- search_or_recommend(interests, budget_min, budget_max, season)
- city_info_or_attractions(cities)
- route_or_plan(cities, days)
- llm_chat(query)

Given the user's task, respond with ONLY a JSON object of this shape:
{"reasoning": "...", "steps": [{"action": "tool_name", "params": {...}, "reasoning": "..."}]}

Task: %s`

// planLLM asks the LLM client to produce a plan, parsing its response
// through a direct->fenced->brace-regex fallback ladder. It returns
// (nil, false) when every attempt fails, signalling the caller to fall
// back to the rule path.
func planLLM(ctx context.Context, client *llm.Client, task string) ([]PlannedStep, bool) {
	if client == nil {
		return nil, false
	}

	prompt := fmt.Sprintf(planningSystemPromptTemplate, task)
	result, err := client.Chat(ctx, []llm.Message{{Role: llm.RoleSystem, Content: prompt}}, llm.CallOptions{})
	if err != nil || result == nil || !result.Success {
		return nil, false
	}

	parsed, ok := extractPlanJSON(result.Content)
	if !ok {
		return nil, false
	}

	steps := make([]PlannedStep, 0, len(parsed.Steps))
	for i, s := range parsed.Steps {
		steps = append(steps, PlannedStep{Step: i, Action: s.Action, Params: s.Params})
	}
	if len(steps) == 0 {
		return nil, false
	}
	return steps, true
}

// extractPlanJSON tries, in order: a direct json.Unmarshal; stripping a
// ```json fenced block; regex-extracting the first brace-balanced
// object. Each candidate is tried with single quotes normalised to
// double quotes as a last resort.
func extractPlanJSON(content string) (*llmPlanResponse, bool) {
	candidates := []string{content}

	if fenced := fencedJSONPattern.FindStringSubmatch(content); fenced != nil {
		candidates = append(candidates, fenced[1])
	}

	if brace := balancedBraceSubstring(content); brace != "" {
		candidates = append(candidates, brace)
	}

	for _, c := range candidates {
		var parsed llmPlanResponse
		if err := json.Unmarshal([]byte(c), &parsed); err == nil && len(parsed.Steps) > 0 {
			return &parsed, true
		}
		normalised := strings.ReplaceAll(c, "'", `"`)
		var parsedNormalised llmPlanResponse
		if err := json.Unmarshal([]byte(normalised), &parsedNormalised); err == nil && len(parsedNormalised.Steps) > 0 {
			return &parsedNormalised, true
		}
	}
	return nil, false
}

var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// balancedBraceSubstring returns the first brace-balanced `{...}`
// substring of s, or "" if none is found.
func balancedBraceSubstring(s string) string {
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
