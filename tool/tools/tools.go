package tools

import (
	"context"
	"fmt"

	"github.com/tiammomo/ShuaiTravelAgent/llm"
	"github.com/tiammomo/ShuaiTravelAgent/tool"
)

// Register installs the fixed travel-domain tool set into reg: a
// recommendation tool, a city-info tool, and a route-planning tool. Of
// these, search_or_recommend and route_or_plan are among the ReAct
// engine's default terminal tools; city_info_or_attractions is not.
func Register(reg *tool.Registry) {
	reg.Register(Info(), recommendExecutor())
	reg.Register(cityInfoInfo(), cityInfoExecutor())
	reg.Register(routePlanInfo(), routePlanExecutor())
}

// DefaultTerminalTools names the tools whose success ends a ReAct run.
func DefaultTerminalTools() map[string]bool {
	return map[string]bool{
		"llm_chat":               true,
		"search_or_recommend":    true,
		"route_or_plan":          true,
	}
}

// Info describes the recommendation tool.
func Info() tool.Info {
	return tool.Info{
		Name:        "search_or_recommend",
		Description: "Recommend destinations matching interests, budget, and season.",
		Parameters: map[string]tool.ParamSchema{
			"interests":   {Type: "array", Description: "Interest tags, e.g. history, food"},
			"budget_min":  {Type: "number", Description: "Lower bound of the travel budget in CNY"},
			"budget_max":  {Type: "number", Description: "Upper bound of the travel budget in CNY"},
			"season":      {Type: "string", Description: "Preferred travel season"},
		},
		Timeout:  30,
		Category: "recommendation",
		Tags:     []string{"travel", "recommend"},
	}
}

func recommendExecutor() tool.Executor {
	return tool.NewSyncExecutor(func(ctx context.Context, params tool.Params) (any, error) {
		var interests []string
		if raw, ok := params["interests"].([]string); ok {
			interests = raw
		} else if raw, ok := params["interests"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					interests = append(interests, s)
				}
			}
		}

		var matches []map[string]any
		for name, entry := range catalog {
			if len(interests) == 0 || tagsOverlap(entry.Tags, interests) {
				matches = append(matches, map[string]any{
					"name":  name,
					"emoji": entry.Emoji,
					"tags":  entry.Tags,
				})
			}
		}
		return tool.Output{
			"success": true,
			"cities":  matches,
		}, nil
	})
}

func tagsOverlap(tags, interests []string) bool {
	want := make(map[string]bool, len(interests))
	for _, i := range interests {
		want[i] = true
	}
	for _, t := range tags {
		if want[t] {
			return true
		}
	}
	return false
}

func cityInfoInfo() tool.Info {
	return tool.Info{
		Name:        "city_info_or_attractions",
		Description: "Look up a city's summary and attraction list.",
		Parameters: map[string]tool.ParamSchema{
			"cities": {Type: "array", Description: "City names to look up"},
		},
		Required: []string{"cities"},
		Timeout:  30,
		Category: "query",
		Tags:     []string{"travel", "info"},
	}
}

func cityInfoExecutor() tool.Executor {
	return tool.NewSyncExecutor(func(ctx context.Context, params tool.Params) (any, error) {
		cities := toStringSlice(params["cities"])
		if len(cities) == 0 {
			return nil, fmt.Errorf("city_info_or_attractions: no cities supplied")
		}

		var info []map[string]any
		for _, name := range cities {
			entry, ok := lookupCity(name)
			if !ok {
				continue
			}
			var attractions []map[string]any
			for _, a := range entry.Attractions {
				attractions = append(attractions, map[string]any{
					"name":        a.Name,
					"type":        a.Type,
					"ticket":      a.Ticket,
					"description": a.Description,
				})
			}
			info = append(info, map[string]any{
				"name":        name,
				"emoji":       entry.Emoji,
				"attractions": attractions,
			})
		}
		return tool.Output{
			"success": len(info) > 0,
			"info":    info,
		}, nil
	})
}

func routePlanInfo() tool.Info {
	return tool.Info{
		Name:        "route_or_plan",
		Description: "Build a day-by-day route plan for one or more cities.",
		Parameters: map[string]tool.ParamSchema{
			"cities": {Type: "array", Description: "Cities to route through"},
			"days":   {Type: "number", Description: "Total number of days"},
		},
		Required: []string{"cities"},
		Timeout:  30,
		Category: "planning",
		Tags:     []string{"travel", "plan"},
	}
}

func routePlanExecutor() tool.Executor {
	return tool.NewSyncExecutor(func(ctx context.Context, params tool.Params) (any, error) {
		cities := toStringSlice(params["cities"])
		days := 3
		if d, ok := params["days"].(int); ok && d > 0 {
			days = d
		} else if d, ok := params["days"].(float64); ok && d > 0 {
			days = int(d)
		}

		var plan []map[string]any
		for i := 0; i < days; i++ {
			city := "目的地"
			if len(cities) > 0 {
				city = cities[i%len(cities)]
			}
			plan = append(plan, map[string]any{
				"day":  i + 1,
				"city": city,
			})
		}
		return tool.Output{
			"success":     true,
			"route_plan":  plan,
			"days":        days,
		}, nil
	})
}

// RegisterLLMChat installs the llm_chat fallback tool, bound to client,
// into reg. This is the chat-bucket terminal action the rule-based and
// LLM-based planners both fall back to when no domain tool applies.
func RegisterLLMChat(reg *tool.Registry, client *llm.Client) {
	reg.Register(tool.Info{
		Name:        "llm_chat",
		Description: "Answer free-form conversation that no domain tool covers.",
		Parameters: map[string]tool.ParamSchema{
			"query": {Type: "string", Description: "The user's message"},
		},
		Required: []string{"query"},
		Timeout:  30,
		Category: "chat",
		Tags:     []string{"chat", "fallback"},
	}, llmChatExecutor(client))
}

func llmChatExecutor(client *llm.Client) tool.Executor {
	return tool.NewSyncExecutor(func(ctx context.Context, params tool.Params) (any, error) {
		query, _ := params["query"].(string)
		if client == nil {
			return tool.Output{"success": false, "response": ""}, fmt.Errorf("llm_chat: no LLM client configured")
		}
		result, err := client.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: query}}, llm.CallOptions{})
		if err != nil {
			return nil, fmt.Errorf("llm_chat: %w", err)
		}
		if !result.Success {
			return nil, fmt.Errorf("llm_chat: %s", result.Error)
		}
		return tool.Output{"success": true, "response": result.Content}, nil
	})
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	default:
		return nil
	}
}
