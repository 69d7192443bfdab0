// Package dispatch turns one utterance into one reply. Rules are consulted
// first; anything they do not answer goes to the LLM chain. Tool calls from
// either source run strictly in order, with message-id placeholders bound
// from earlier results.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/rules"
	"github.com/vango-go/vai-voice/pkg/core/tools"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

// ErrEmptyUtterance is returned for blank input.
var ErrEmptyUtterance = errors.New("dispatch: empty utterance")

// SpeakerNone disables speech synthesis for a session.
const SpeakerNone = "none"

const (
	defaultToolTimeout  = 20 * time.Second
	defaultVoiceTimeout = 30 * time.Second
	defaultMaxTokens    = 1000
	summaryContext      = 5
)

// Dispatch paths reported to observers.
const (
	PathRule  = "rule"
	PathLLM   = "llm"
	PathError = "error"
)

// RuleMatcher is the rule engine seen by the pipeline.
type RuleMatcher interface {
	Match(utterance string) *rules.Match
}

// LLM is the provider chain seen by the pipeline.
type LLM interface {
	CreateMessage(ctx context.Context, req *types.MessageRequest, prefer string) (*types.MessageResponse, error)
	Has(name string) bool
}

// ToolExecutor validates and runs tool calls.
type ToolExecutor interface {
	Definitions() []types.Tool
	Execute(ctx context.Context, sessionID string, call types.ToolCall) (*tools.Result, error)
}

// Speaker synthesizes reply text and returns a client-fetchable audio handle.
type Speaker interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// ToolOutcome reports one executed, failed or skipped tool call.
type ToolOutcome struct {
	Name    string         `json:"name"`
	Input   map[string]any `json:"parameters"`
	OK      bool           `json:"success"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Err     error          `json:"-"`
}

// Response is the reply to one utterance.
type Response struct {
	Text        string        `json:"content"`
	AudioURL    string        `json:"audio_url,omitempty"`
	RuleName    string        `json:"rule_name,omitempty"`
	Path        string        `json:"path"`
	Provider    string        `json:"provider,omitempty"`
	ToolResults []ToolOutcome `json:"tool_results,omitempty"`
}

// Status describes a session's conversation state.
type Status struct {
	Messages    int      `json:"history_messages"`
	LLMProvider string   `json:"llm_provider,omitempty"`
	TTSProvider string   `json:"tts_provider"`
	Tools       []string `json:"tools"`
}

// Config wires a Pipeline.
type Config struct {
	Rules RuleMatcher
	LLM   LLM
	Tools ToolExecutor

	// Speakers maps a TTS provider name to its synthesizer. DefaultSpeaker
	// is used when a session sets no override; SpeakerNone or an unknown
	// name produces no audio.
	Speakers       map[string]Speaker
	DefaultSpeaker string

	HistoryLimit int
	// SessionTTL drops a session's history after this much inactivity and
	// MaxSessions caps how many sessions are held at once.
	SessionTTL   time.Duration
	MaxSessions  int
	MaxTokens    int
	ToolTimeout  time.Duration
	VoiceTimeout time.Duration

	Logger     *slog.Logger
	OnDispatch func(path string)
	OnTool     func(tool, status string)
}

// Pipeline is safe for concurrent use across sessions.
type Pipeline struct {
	rules          RuleMatcher
	llm            LLM
	tools          ToolExecutor
	speakers       map[string]Speaker
	defaultSpeaker string
	maxTokens      int
	toolTimeout    time.Duration
	voiceTimeout   time.Duration
	logger         *slog.Logger
	onDispatch     func(path string)
	onTool         func(tool, status string)

	sessions *sessions
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		rules:          cfg.Rules,
		llm:            cfg.LLM,
		tools:          cfg.Tools,
		speakers:       cfg.Speakers,
		defaultSpeaker: cfg.DefaultSpeaker,
		maxTokens:      cfg.MaxTokens,
		toolTimeout:    cfg.ToolTimeout,
		voiceTimeout:   cfg.VoiceTimeout,
		logger:         cfg.Logger,
		onDispatch:     cfg.OnDispatch,
		onTool:         cfg.OnTool,
		sessions:       newSessions(cfg.HistoryLimit, cfg.SessionTTL, cfg.MaxSessions),
	}
	if p.tools == nil {
		p.tools = tools.NewRegistry()
	}
	if p.maxTokens <= 0 {
		p.maxTokens = defaultMaxTokens
	}
	if p.toolTimeout <= 0 {
		p.toolTimeout = defaultToolTimeout
	}
	if p.voiceTimeout <= 0 {
		p.voiceTimeout = defaultVoiceTimeout
	}
	if p.defaultSpeaker == "" {
		p.defaultSpeaker = SpeakerNone
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Handle answers one utterance for sessionID.
func (p *Pipeline) Handle(ctx context.Context, sessionID, utterance string) (*Response, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return nil, ErrEmptyUtterance
	}
	start := time.Now()

	resp := &Response{}
	var match *rules.Match
	if p.rules != nil {
		match = p.rules.Match(text)
	}
	switch {
	case match.Final():
		resp.Path, resp.RuleName, resp.Text = PathRule, match.Rule, match.Response
	case match != nil:
		resp.Path, resp.RuleName = PathRule, match.Rule
		resp.ToolResults = p.runTools(ctx, sessionID, match.ToolCalls)
		resp.Text = formatOutcomes(resp.ToolResults)
	default:
		p.answer(ctx, sessionID, text, resp)
	}
	if strings.TrimSpace(resp.Text) == "" {
		resp.Text = Apology
	}

	p.sessions.append(sessionID, types.UserMessage(text), types.AssistantMessage(resp.Text))
	resp.AudioURL = p.speak(ctx, sessionID, resp.Text)

	if p.onDispatch != nil {
		p.onDispatch(resp.Path)
	}
	p.logger.Info("utterance handled",
		"session_id", sessionID,
		"path", resp.Path,
		"rule", resp.RuleName,
		"provider", resp.Provider,
		"tool_calls", len(resp.ToolResults),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (p *Pipeline) answer(ctx context.Context, sessionID, text string, resp *Response) {
	if p.llm == nil {
		resp.Path, resp.Text = PathError, Apology
		return
	}
	prefs := p.sessions.prefs(sessionID)
	defs := p.tools.Definitions()
	req := &types.MessageRequest{
		System:    systemPrompt(defs),
		Messages:  append(p.sessions.recent(sessionID, contextWindow), types.UserMessage(text)),
		Tools:     defs,
		MaxTokens: p.maxTokens,
	}
	out, err := p.llm.CreateMessage(ctx, req, prefs.LLMProvider)
	if err != nil {
		p.logger.Warn("llm request failed", "session_id", sessionID, "error", err)
		resp.Path, resp.Text = PathError, Apology
		return
	}
	resp.Path, resp.Provider = PathLLM, out.Provider

	textCalls, rest := ParseTextToolCalls(out.Text)
	calls := make([]types.ToolCall, 0, len(out.ToolCalls)+len(textCalls))
	for _, c := range out.ToolCalls {
		calls = append(calls, c.Clone())
	}
	calls = types.DedupeToolCalls(append(calls, textCalls...))
	if len(calls) == 0 {
		resp.Text = rest
		return
	}

	resp.ToolResults = p.runTools(ctx, sessionID, calls)
	resp.Text = p.summarize(ctx, sessionID, text, resp.ToolResults, prefs.LLMProvider)
}

// summarize asks the chain to phrase tool results. The formatted results are
// used when that fails.
func (p *Pipeline) summarize(ctx context.Context, sessionID, text string, outcomes []ToolOutcome, prefer string) string {
	fallback := formatOutcomes(outcomes)
	req := &types.MessageRequest{
		System:    summarySystemPrompt,
		Messages:  append(p.sessions.recent(sessionID, summaryContext), types.UserMessage(summaryPrompt(text, outcomes))),
		MaxTokens: p.maxTokens,
	}
	out, err := p.llm.CreateMessage(ctx, req, prefer)
	if err != nil {
		p.logger.Warn("summary request failed", "session_id", sessionID, "error", err)
		return fallback
	}
	if _, summary := ParseTextToolCalls(out.Text); summary != "" {
		return summary
	}
	return fallback
}

func (p *Pipeline) runTools(ctx context.Context, sessionID string, calls []types.ToolCall) []ToolOutcome {
	b := newBinder()
	outcomes := make([]ToolOutcome, 0, len(calls))
	for _, call := range calls {
		resolved, err := b.resolve(call)
		if err != nil {
			outcomes = append(outcomes, p.failed(sessionID, call, err, "unresolved"))
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, p.toolTimeout)
		res, err := p.tools.Execute(tctx, sessionID, resolved)
		cancel()
		if err != nil {
			outcomes = append(outcomes, p.failed(sessionID, resolved, err, "error"))
			continue
		}

		b.learn(res.Metadata)
		p.observeTool(resolved.Name, "ok")
		outcomes = append(outcomes, ToolOutcome{
			Name:    resolved.Name,
			Input:   resolved.Input,
			OK:      true,
			Message: res.Message,
			Data:    res.Data,
		})
	}
	return outcomes
}

func (p *Pipeline) failed(sessionID string, call types.ToolCall, err error, status string) ToolOutcome {
	var ue *tools.UserError
	if errors.As(err, &ue) {
		p.logger.Info("tool call rejected", "session_id", sessionID, "tool", call.Name, "reason", ue.Message)
	} else {
		p.logger.Warn("tool call failed", "session_id", sessionID, "tool", call.Name, "error", err)
	}
	p.observeTool(call.Name, status)
	return ToolOutcome{Name: call.Name, Input: call.Input, Message: UserMessage(err), Err: err}
}

func (p *Pipeline) observeTool(name, status string) {
	if p.onTool != nil {
		p.onTool(name, status)
	}
}

func (p *Pipeline) speak(ctx context.Context, sessionID, text string) string {
	name := p.sessions.prefs(sessionID).TTSProvider
	if name == "" {
		name = p.defaultSpeaker
	}
	sp, ok := p.speakers[name]
	if name == SpeakerNone || !ok || sp == nil {
		return ""
	}
	vctx, cancel := context.WithTimeout(ctx, p.voiceTimeout)
	defer cancel()
	url, err := sp.Synthesize(vctx, text)
	if err != nil {
		p.logger.Warn("speech synthesis failed", "session_id", sessionID, "speaker", name, "error", err)
		return ""
	}
	return url
}

// Configure applies per-session overrides. Empty fields clear the override.
func (p *Pipeline) Configure(sessionID string, prefs Preferences) (Preferences, error) {
	prefs.LLMProvider = strings.TrimSpace(prefs.LLMProvider)
	prefs.TTSProvider = strings.TrimSpace(prefs.TTSProvider)
	if prefs.LLMProvider != "" && (p.llm == nil || !p.llm.Has(prefs.LLMProvider)) {
		return Preferences{}, core.NewInvalidRequestErrorWithParam("unknown llm provider: "+prefs.LLMProvider, "llm_provider")
	}
	if prefs.TTSProvider != "" && prefs.TTSProvider != SpeakerNone {
		if _, ok := p.speakers[prefs.TTSProvider]; !ok {
			return Preferences{}, core.NewInvalidRequestErrorWithParam("unknown tts provider: "+prefs.TTSProvider, "tts_provider")
		}
	}
	p.sessions.setPrefs(sessionID, prefs)
	return prefs, nil
}

// Reset clears a session's history and overrides.
func (p *Pipeline) Reset(sessionID string) {
	p.sessions.reset(sessionID)
}

// Status reports a session's conversation state.
func (p *Pipeline) Status(sessionID string) Status {
	prefs := p.sessions.prefs(sessionID)
	tts := prefs.TTSProvider
	if tts == "" {
		tts = p.defaultSpeaker
	}
	names := make([]string, 0)
	for _, d := range p.tools.Definitions() {
		names = append(names, d.Name)
	}
	return Status{
		Messages:    p.sessions.count(sessionID),
		LLMProvider: prefs.LLMProvider,
		TTSProvider: tts,
		Tools:       names,
	}
}

// History returns up to n of the session's most recent messages.
func (p *Pipeline) History(sessionID string, n int) []types.Message {
	return p.sessions.recent(sessionID, n)
}
