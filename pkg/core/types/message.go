package types

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one plain-text conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage is a convenience constructor.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage is a convenience constructor.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ToolCall is one requested invocation of a registered tool.
type ToolCall struct {
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name"`
	Input map[string]any `json:"parameters"`
}

// Key returns a canonical form of the call used for de-duplication.
// encoding/json sorts map keys, so equal calls produce equal keys.
func (c ToolCall) Key() string {
	b, err := json.Marshal(struct {
		Name  string         `json:"name"`
		Input map[string]any `json:"parameters"`
	}{strings.TrimSpace(c.Name), c.Input})
	if err != nil {
		return c.Name
	}
	return string(b)
}

// Clone returns a copy whose Input map can be modified independently.
func (c ToolCall) Clone() ToolCall {
	out := c
	out.Input = make(map[string]any, len(c.Input))
	for k, v := range c.Input {
		out.Input[k] = v
	}
	return out
}

// DedupeToolCalls drops later calls whose canonical form was already seen,
// preserving emission order.
func DedupeToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]struct{}, len(calls))
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		k := c.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}
