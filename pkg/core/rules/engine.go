package rules

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Match is the outcome of a successful rule match. Exactly one of Response
// and ToolCalls is set.
type Match struct {
	Rule      string           `json:"rule_name"`
	Priority  int              `json:"priority"`
	Response  string           `json:"response,omitempty"`
	ToolCalls []types.ToolCall `json:"tool_calls,omitempty"`
}

// Final reports whether the match is a complete answer.
func (m *Match) Final() bool {
	return m != nil && len(m.ToolCalls) == 0
}

// Picker chooses an index in [0, n).
type Picker func(n int) int

// Engine evaluates utterances against a rule table. It is safe for
// concurrent use.
type Engine struct {
	rules []Rule
	pick  Picker
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPicker sets how a canned response is chosen.
func WithPicker(p Picker) Option {
	return func(e *Engine) { e.pick = p }
}

// WithClock sets the clock used by the time and date actions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over an already loaded table.
func NewEngine(rules []Rule, opts ...Option) *Engine {
	e := &Engine{
		rules: rules,
		pick:  rand.IntN,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the table in declaration order.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Match returns nil when no rule applies.
func (e *Engine) Match(utterance string) *Match {
	trimmed := strings.TrimSpace(utterance)
	input := strings.ToLower(trimmed)
	if input == "" {
		return nil
	}

	var best *Rule
	for i := range e.rules {
		r := &e.rules[i]
		if best != nil && r.Priority <= best.Priority {
			continue
		}
		if r.Matches(input) {
			best = r
		}
	}
	if best == nil {
		return nil
	}

	m := &Match{Rule: best.Name, Priority: best.Priority}
	switch best.Action {
	case "":
		m.Response = best.Responses[e.pick(len(best.Responses))]
	case ActionCurrentTime:
		m.Response = currentTime(e.now())
	case ActionCurrentDate:
		m.Response = currentDate(e.now())
	case ActionCalculate:
		m.Response = calculate(input)
	case ActionGmail:
		m.ToolCalls = SuggestGmailCalls(trimmed)
	}
	return m
}
