package types

// MessageRequest is a provider-neutral completion request.
type MessageRequest struct {
	// Model is either "provider/model-name" or a bare model name for the
	// provider the request is sent to.
	Model     string    `json:"model,omitempty"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Tools     []Tool    `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}
