package types

// MessageResponse is a provider-neutral completion.
type MessageResponse struct {
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// HasToolUse reports whether the model asked for any tool call.
func (r *MessageResponse) HasToolUse() bool {
	return r != nil && len(r.ToolCalls) > 0
}
