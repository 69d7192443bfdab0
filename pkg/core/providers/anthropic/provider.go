// Package anthropic implements the Anthropic Messages provider on top of the
// official anthropic-sdk-go SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

const (
	// Name is the provider identifier.
	Name = "anthropic"

	// DefaultModel is used when a request names no model.
	DefaultModel = "claude-3-5-haiku-latest"

	// DefaultMaxTokens is the default max tokens if not specified.
	DefaultMaxTokens = 1000
)

// Option configures the Anthropic provider.
type Option func(*settings)

type settings struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) { s.httpClient = client }
}

// WithMaxRetries sets the SDK retry budget.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// Provider implements llm.Provider.
type Provider struct {
	client anthropic.Client
}

// New creates a new Anthropic provider.
func New(apiKey string, opts ...Option) *Provider {
	s := settings{maxRetries: 1}
	for _, opt := range opts {
		opt(&s)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(s.maxRetries),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(s.httpClient))
	}
	return &Provider{client: anthropic.NewClient(reqOpts...)}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return Name
}

// CreateMessage sends a non-streaming request.
func (p *Provider) CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error) {
	msg, err := p.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, core.NewUpstreamError(Name, apiErr.StatusCode, err)
		}
		return nil, err
	}
	return parseResponse(msg)
}

func buildParams(req *types.MessageRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  buildMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, tool := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{}
		if tool.InputSchema != nil {
			props := make(map[string]any, len(tool.InputSchema.Properties))
			for name, prop := range tool.InputSchema.Properties {
				props[name] = prop.Map()
			}
			schema.Properties = props
			schema.Required = tool.InputSchema.Required
		}
		tp := &anthropic.ToolParam{Name: tool.Name, InputSchema: schema}
		if tool.Description != "" {
			tp.Description = anthropic.String(tool.Description)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: tp})
	}
	return params
}

// buildMessages merges consecutive turns of the same role, which the
// Messages API rejects, and drops a leading assistant turn.
func buildMessages(history []types.Message) []anthropic.MessageParam {
	type turn struct {
		role types.Role
		text []string
	}
	var turns []turn
	for _, m := range history {
		role := m.Role
		if role != types.RoleAssistant {
			role = types.RoleUser
		}
		if len(turns) == 0 && role == types.RoleAssistant {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text = append(turns[n-1].text, m.Content)
			continue
		}
		turns = append(turns, turn{role: role, text: []string{m.Content}})
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.text, "\n"))
		if t.role == types.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func parseResponse(msg *anthropic.Message) (*types.MessageResponse, error) {
	out := &types.MessageResponse{
		Provider: Name,
		Model:    string(msg.Model),
		Usage: types.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var text []string
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text = append(text, b.Text)
		case anthropic.ToolUseBlock:
			input := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return nil, core.NewProviderError(Name, fmt.Errorf("tool %q: invalid input: %w", b.Name, err))
				}
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: b.ID, Name: b.Name, Input: input})
		}
	}
	out.Text = strings.Join(text, "")
	return out, nil
}
