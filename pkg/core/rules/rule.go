// Package rules answers common utterances locally, without an LLM call.
//
// A rule table is an ordered list of rules. Each rule carries regular
// expression patterns, a priority, and either canned responses or one of a
// closed set of actions.
package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultTable []byte

// Action names a computed response.
type Action string

const (
	ActionCurrentTime Action = "get_current_time"
	ActionCurrentDate Action = "get_current_date"
	ActionCalculate   Action = "calculate"
	ActionGmail       Action = "use_gmail_tool"
)

var knownActions = map[Action]struct{}{
	ActionCurrentTime: {},
	ActionCurrentDate: {},
	ActionCalculate:   {},
	ActionGmail:       {},
}

// Rule is one entry of the table.
type Rule struct {
	Name      string   `yaml:"name"`
	Priority  int      `yaml:"priority"`
	Patterns  []string `yaml:"patterns"`
	Responses []string `yaml:"responses,omitempty"`
	Action    Action   `yaml:"action,omitempty"`

	compiled []*regexp.Regexp
}

// Matches reports whether any pattern occurs in the normalized input.
func (r *Rule) Matches(normalized string) bool {
	for _, re := range r.compiled {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

type table struct {
	Rules []Rule `yaml:"rules"`
}

// Default returns the built-in rule table.
func Default() ([]Rule, error) {
	return Load(bytes.NewReader(defaultTable))
}

// LoadFile reads a rule table from path.
func LoadFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rules, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Load decodes and validates a YAML rule table. Patterns are compiled case
// insensitively. Unknown actions, rules with neither responses nor an action,
// and duplicate names are rejected.
func Load(r io.Reader) ([]Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var t table
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("rules: empty table")
		}
		return nil, fmt.Errorf("rules: decode: %w", err)
	}
	if len(t.Rules) == 0 {
		return nil, errors.New("rules: empty table")
	}

	seen := make(map[string]struct{}, len(t.Rules))
	for i := range t.Rules {
		rule := &t.Rules[i]
		rule.Name = strings.TrimSpace(rule.Name)
		if rule.Name == "" {
			return nil, fmt.Errorf("rules: rule %d has no name", i)
		}
		if _, dup := seen[rule.Name]; dup {
			return nil, fmt.Errorf("rules: duplicate rule %q", rule.Name)
		}
		seen[rule.Name] = struct{}{}

		if rule.Action != "" {
			if _, ok := knownActions[rule.Action]; !ok {
				return nil, fmt.Errorf("rules: rule %q: unknown action %q", rule.Name, rule.Action)
			}
		} else if len(rule.Responses) == 0 {
			return nil, fmt.Errorf("rules: rule %q needs responses or an action", rule.Name)
		}
		if len(rule.Patterns) == 0 {
			return nil, fmt.Errorf("rules: rule %q has no patterns", rule.Name)
		}

		rule.compiled = make([]*regexp.Regexp, 0, len(rule.Patterns))
		for _, p := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("rules: rule %q: pattern %q: %w", rule.Name, p, err)
			}
			rule.compiled = append(rule.compiled, re)
		}
	}
	return t.Rules, nil
}
