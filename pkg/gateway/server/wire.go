package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/credentials"
	"github.com/vango-go/vai-voice/pkg/core/dispatch"
	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/oauthflow"
	"github.com/vango-go/vai-voice/pkg/core/providers/anthropic"
	"github.com/vango-go/vai-voice/pkg/core/providers/gemini"
	"github.com/vango-go/vai-voice/pkg/core/providers/openai"
	"github.com/vango-go/vai-voice/pkg/core/rules"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/core/tools"
	"github.com/vango-go/vai-voice/pkg/core/tools/alarm"
	"github.com/vango-go/vai-voice/pkg/core/tools/calendar"
	"github.com/vango-go/vai-voice/pkg/core/tools/clock"
	"github.com/vango-go/vai-voice/pkg/core/tools/gmail"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/handlers"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
)

// Components are the long-lived collaborators behind the HTTP surface.
type Components struct {
	Sessions *session.Store
	Vault    *credentials.Vault
	OAuth    *oauthflow.Coordinator
	Rules    *rules.Engine
	LLM      *llm.Chain
	Pipeline *dispatch.Pipeline
	STT      handlers.Transcriber
	Metrics  *metrics.Metrics

	closers []io.Closer
}

// Close releases the OAuth state store.
func (c *Components) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

func newHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.ToolTimeout,
		},
	}
}

// Build constructs every component from configuration. Providers, speakers
// and transcribers are only registered when their API key is present.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{Metrics: metrics.New("")}

	store, err := session.NewStore(cfg.SessionRoot)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	c.Sessions = store

	google := credentials.GoogleClient{HTTPClient: newHTTPClient(cfg)}
	client := oauthflow.ClientSource{
		JSON:        cfg.GmailCredentialsJSON,
		File:        cfg.GmailCredentialsFile,
		RedirectURL: oauthflow.RedirectURL(cfg.AppURL),
	}
	c.Vault = credentials.NewVault(store,
		credentials.WithRefresher(credentials.OAuth2Refresher{Config: client.Config, Timeout: cfg.OAuthTimeout}),
		credentials.WithIdentity(credentials.GmailProfile{API: google}),
		credentials.WithLogger(logger),
	)

	pending, err := newPendingStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.OAuth = oauthflow.NewCoordinator(oauthflow.Config{
		Client:          client,
		Pending:         pending,
		Vault:           c.Vault,
		Logger:          logger,
		StateTTL:        cfg.OAuthStateTTL,
		ExchangeTimeout: cfg.OAuthTimeout,
	})
	c.closers = append(c.closers, c.OAuth)

	ruleSet, err := loadRules(cfg.RulesFile)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Rules = rules.NewEngine(ruleSet)

	registry := llm.NewRegistry()
	if cfg.OpenAIAPIKey != "" {
		registry.Register(openai.New(cfg.OpenAIAPIKey))
	}
	if cfg.AnthropicAPIKey != "" {
		registry.Register(anthropic.New(cfg.AnthropicAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		p, err := gemini.New(ctx, cfg.GeminiAPIKey)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		registry.Register(p)
	}
	c.LLM = llm.NewChain(llm.ChainConfig{
		Registry: registry,
		Primary:  cfg.LLMPrimaryProvider,
		Fallback: cfg.LLMFallbackProvider,
		Models:   cfg.Models(),
		Timeout:  cfg.LLMTimeout,
		Logger:   logger,
		Observer: c.Metrics.RecordLLM,
	})
	if names := registry.Names(); len(names) == 0 {
		logger.Warn("no llm provider configured, unmatched utterances will get an apology")
	} else {
		logger.Info("llm providers registered", "providers", names)
	}

	toolset := tools.NewRegistry(
		gmail.New(c.Vault, google),
		calendar.New(c.Vault, google, time.Now),
		alarm.New(),
		clock.New(time.Now),
	)

	speakers := map[string]dispatch.Speaker{}
	defaultSpeaker := dispatch.SpeakerNone
	if cfg.OpenAIAPIKey != "" {
		oa := openai.NewClient(cfg.OpenAIAPIKey)
		sp, err := tts.NewSpeaker(tts.SpeakerConfig{
			Provider: tts.NewOpenAI(oa),
			Dir:      cfg.AudioDir,
			Options:  tts.SynthesizeOptions{Voice: cfg.TTSVoice},
			Logger:   logger,
		})
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		speakers[sp.Name()] = sp
		c.STT = stt.NewOpenAI(oa, cfg.STTLanguage)
	}
	if _, ok := speakers[cfg.TTSProvider]; ok {
		defaultSpeaker = cfg.TTSProvider
	} else if cfg.TTSProvider != "" && cfg.TTSProvider != dispatch.SpeakerNone {
		logger.Warn("tts provider unavailable, replies will be text only", "tts_provider", cfg.TTSProvider)
	}

	c.Pipeline = dispatch.New(dispatch.Config{
		Rules:          c.Rules,
		LLM:            c.LLM,
		Tools:          toolset,
		Speakers:       speakers,
		DefaultSpeaker: defaultSpeaker,
		HistoryLimit:   cfg.HistoryMaxMessages,
		SessionTTL:     cfg.HistoryIdleTTL,
		MaxSessions:    cfg.HistoryMaxSessions,
		ToolTimeout:    cfg.ToolTimeout,
		VoiceTimeout:   cfg.VoiceTimeout,
		Logger:         logger,
		OnDispatch:     c.Metrics.RecordDispatch,
		OnTool:         c.Metrics.RecordTool,
	})
	return c, nil
}

func newPendingStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (oauthflow.PendingStore, error) {
	switch cfg.StateStore {
	case config.StateStoreRedis:
		s, err := oauthflow.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("oauth state store: %w", err)
		}
		return s, nil
	case config.StateStorePostgres:
		s, err := oauthflow.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("oauth state store: %w", err)
		}
		return s, nil
	default:
		return oauthflow.NewMemoryStore(time.Minute), nil
	}
}

func loadRules(path string) ([]rules.Rule, error) {
	if path == "" {
		return rules.Default()
	}
	rs, err := rules.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return rs, nil
}
