// Package memory implements the two-tier Memory owned by a Session: a
// bounded working-memory ring of recent messages, a bounded archive of
// retired session summaries, and a UserPreference record derived from
// user text by a deterministic regex/keyword extractor.
package memory

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultWorkingCapacity bounds the recent-message ring.
	DefaultWorkingCapacity = 10
	// DefaultArchiveCapacity bounds the long-term archive.
	DefaultArchiveCapacity = 50
)

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of working memory.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// BudgetRange is an inclusive CNY-per-day budget window.
type BudgetRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// UserPreference accumulates signal extracted from user messages over
// the life of a session. It is never hand-edited mid-stream; it changes
// only via UpdateFromText.
type UserPreference struct {
	Budget       *BudgetRange `json:"budget,omitempty"`
	TravelDays   int          `json:"travel_days,omitempty"`
	InterestTags []string     `json:"interest_tags,omitempty"`
	Cities       []string     `json:"preferred_cities,omitempty"`
	Season       string       `json:"season,omitempty"`
	Companions   string       `json:"companions,omitempty"`
}

var (
	numberPattern = regexp.MustCompile(`\d+`)
	daysPattern   = regexp.MustCompile(`(\d+)\s*天`)
)

// interestKeywords maps a surface keyword to the canonical interest
// tag it implies, mirroring the original's interest_keywords table.
var interestKeywords = map[string]string{
	"历史": "历史文化",
	"文化": "历史文化",
	"自然": "自然风光",
	"风景": "自然风光",
	"美食": "美食",
	"海边": "海滨度假",
	"海滨": "海滨度假",
	"购物": "现代都市",
	"休闲": "休闲养生",
}

var companionKeywords = []struct{ keyword, companion string }{
	{"一个人", "独自"},
	{"独自", "独自"},
	{"家人", "家人"},
	{"带娃", "家人"},
	{"朋友", "朋友"},
	{"情侣", "情侣"},
	{"对象", "情侣"},
}

var seasonKeywords = []string{"春天", "夏天", "秋天", "冬天", "春季", "夏季", "秋季", "冬季"}

// UpdateFromText scans one piece of user-authored text and folds any
// recognised signal into the preference record. Matching is cheap and
// regex/keyword based. Interest tags accumulate without duplicates;
// budget, travel days, companions and season are replaced by the latest
// text that mentions them.
func (p *UserPreference) UpdateFromText(text string) {
	if containsAny(text, "预算", "元", "块") {
		if nums := extractInts(text); len(nums) > 0 {
			if len(nums) >= 2 {
				lo, hi := nums[0], nums[0]
				for _, n := range nums[1:] {
					if n < lo {
						lo = n
					}
					if n > hi {
						hi = n
					}
				}
				p.Budget = &BudgetRange{Min: lo, Max: hi}
			} else {
				p.Budget = &BudgetRange{Min: 0, Max: nums[0]}
			}
		}
	}

	if m := daysPattern.FindStringSubmatch(text); m != nil {
		if days, err := strconv.Atoi(m[1]); err == nil {
			p.TravelDays = days
		}
	}

	for keyword, tag := range interestKeywords {
		if containsAny(text, keyword) && !containsString(p.InterestTags, tag) {
			p.InterestTags = append(p.InterestTags, tag)
		}
	}

	for _, kc := range companionKeywords {
		if containsAny(text, kc.keyword) {
			p.Companions = kc.companion
			break
		}
	}

	for _, season := range seasonKeywords {
		if containsAny(text, season) {
			p.Season = season
			break
		}
	}
}

func extractInts(text string) []int {
	matches := numberPattern.FindAllString(text, -1)
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		if n, err := strconv.Atoi(m); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// ArchivedSession is a retired session summary kept in long-term
// memory once a session is cleared or replaced.
type ArchivedSession struct {
	SessionID  string    `json:"session_id"`
	ArchivedAt time.Time `json:"archived_at"`
	Summary    string    `json:"summary"`
}

// Memory is the two-tier store owned exclusively by one session. It is
// not safe for concurrent use; the owning session's run lock serialises
// every request driving its Orchestrator, and with it every access to
// this Memory.
type Memory struct {
	workingCapacity int
	archiveCapacity int

	working    []Message
	archive    []ArchivedSession
	preference UserPreference
}

// New creates a Memory with the given capacities; a non-positive value
// falls back to the package default.
func New(workingCapacity, archiveCapacity int) *Memory {
	if workingCapacity <= 0 {
		workingCapacity = DefaultWorkingCapacity
	}
	if archiveCapacity <= 0 {
		archiveCapacity = DefaultArchiveCapacity
	}
	return &Memory{
		workingCapacity: workingCapacity,
		archiveCapacity: archiveCapacity,
	}
}

// AddMessage appends a message to working memory, evicting the oldest
// entry once the configured capacity is exceeded, and — for user
// messages — folds the text into the preference record.
func (m *Memory) AddMessage(role Role, content string) {
	m.working = append(m.working, Message{Role: role, Content: content, Timestamp: time.Now()})
	if len(m.working) > m.workingCapacity {
		m.working = m.working[len(m.working)-m.workingCapacity:]
	}
	if role == RoleUser {
		m.preference.UpdateFromText(content)
	}
}

// History returns a copy of the working-memory messages, oldest first.
func (m *Memory) History() []Message {
	out := make([]Message, len(m.working))
	copy(out, m.working)
	return out
}

// Preference returns a copy of the accumulated user preference.
func (m *Memory) Preference() UserPreference {
	return m.preference
}

// Clear empties working memory without touching the archive or
// preference, matching the original's clear_conversation behaviour
// (it resets history, not accumulated preference).
func (m *Memory) Clear() {
	m.working = nil
}

// Archive appends a retired-session summary, evicting the oldest entry
// once archive capacity is exceeded.
func (m *Memory) Archive(entry ArchivedSession) {
	m.archive = append(m.archive, entry)
	if len(m.archive) > m.archiveCapacity {
		m.archive = m.archive[len(m.archive)-m.archiveCapacity:]
	}
}

// ArchivedSessions returns a copy of the long-term archive, oldest first.
func (m *Memory) ArchivedSessions() []ArchivedSession {
	out := make([]ArchivedSession, len(m.archive))
	copy(out, m.archive)
	return out
}
