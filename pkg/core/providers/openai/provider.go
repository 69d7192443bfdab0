// Package openai implements the OpenAI Chat Completions provider on top of
// the official openai-go SDK.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

const (
	// Name is the provider identifier.
	Name = "openai"

	// DefaultModel is used when a request names no model.
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens is the default max tokens if not specified.
	DefaultMaxTokens = 1000
)

// Option configures the OpenAI provider.
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
	client openai.Client
}

// New creates a new OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	return &Provider{client: NewClient(apiKey, opts...)}
}

// NewClient builds the SDK client shared by chat, speech and transcription.
func NewClient(apiKey string, opts ...Option) openai.Client {
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
	return openai.NewClient(reqOpts...)
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return Name
}

// CreateMessage sends a non-streaming chat completion.
func (p *Provider) CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error) {
	resp, err := p.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return nil, translateError(err)
	}
	return parseResponse(resp)
}

func buildParams(req *types.MessageRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(model),
		Messages:  msgs,
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	for _, tool := range req.Tools {
		fn := openai.FunctionDefinitionParam{Name: tool.Name}
		if tool.Description != "" {
			fn.Description = openai.String(tool.Description)
		}
		if tool.InputSchema != nil {
			fn.Parameters = openai.FunctionParameters(tool.InputSchema.Map())
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return params
}

func parseResponse(resp *openai.ChatCompletion) (*types.MessageResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, core.NewProviderError(Name, errors.New("no choices returned"))
	}
	msg := resp.Choices[0].Message

	out := &types.MessageResponse{
		Provider: Name,
		Model:    resp.Model,
		Text:     msg.Content,
		Usage: types.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return nil, core.NewProviderError(Name, fmt.Errorf("tool %q: invalid arguments: %w", tc.Function.Name, err))
			}
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input})
	}
	return out, nil
}

func translateError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return core.NewUpstreamError(Name, apiErr.StatusCode, err)
	}
	return err
}
