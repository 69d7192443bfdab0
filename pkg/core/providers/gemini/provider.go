// Package gemini implements the Gemini provider on top of google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

const (
	// Name is the provider identifier.
	Name = "gemini"

	// DefaultModel is used when a request names no model.
	DefaultModel = "gemini-2.5-flash"

	// DefaultMaxTokens is the default max tokens if not specified.
	DefaultMaxTokens = 1000
)

// Option configures the Gemini provider.
type Option func(*genai.ClientConfig)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(c *genai.ClientConfig) { c.HTTPOptions.BaseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *genai.ClientConfig) { c.HTTPClient = client }
}

// Provider implements llm.Provider.
type Provider struct {
	client *genai.Client
}

// New creates a Gemini API provider.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, core.NewConfigurationError("gemini: api key is required", nil)
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, core.NewConfigurationError("gemini: create client", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return Name
}

// CreateMessage sends a non-streaming GenerateContent request.
func (p *Provider) CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	resp, err := p.client.Models.GenerateContent(ctx, model, buildContents(req.Messages), buildConfig(req))
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, core.NewUpstreamError(Name, apiErr.Code, err)
		}
		return nil, err
	}
	return parseResponse(model, resp), nil
}

func buildContents(history []types.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func buildConfig(req *types.MessageRequest) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decl := &genai.FunctionDeclaration{Name: tool.Name, Description: tool.Description}
			if tool.InputSchema != nil {
				decl.ParametersJsonSchema = tool.InputSchema.Map()
			}
			decls = append(decls, decl)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

func parseResponse(model string, resp *genai.GenerateContentResponse) *types.MessageResponse {
	out := &types.MessageResponse{Provider: Name, Model: model}
	if resp == nil {
		return out
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part.Text != "" && !part.Thought {
				out.Text += part.Text
			}
			if fc := part.FunctionCall; fc != nil {
				input := fc.Args
				if input == nil {
					input = map[string]any{}
				}
				out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: fc.ID, Name: fc.Name, Input: input})
			}
		}
		break
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = types.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out
}
