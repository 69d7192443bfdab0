package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
)

type StateStore string

const (
	StateStoreMemory   StateStore = "memory"
	StateStoreRedis    StateStore = "redis"
	StateStorePostgres StateStore = "postgres"
)

type Config struct {
	Addr string

	// AppURL is the public base URL; the OAuth redirect URI is derived from it.
	AppURL string

	DataDir     string
	SessionRoot string
	AudioDir    string

	// Shared OAuth client configuration. Never stored per session.
	GmailCredentialsJSON string
	GmailCredentialsFile string

	StateStore    StateStore
	RedisURL      string
	DatabaseURL   string
	OAuthStateTTL time.Duration

	RulesFile string

	// LLM provider chain. Models are "provider/model" strings.
	LLMPrimaryProvider  string
	LLMFallbackProvider string
	LLMPrimaryModel     string
	LLMFallbackModel    string
	OpenAIAPIKey        string
	AnthropicAPIKey     string
	GeminiAPIKey        string

	// Bounds on every external call.
	LLMTimeout   time.Duration
	ToolTimeout  time.Duration
	VoiceTimeout time.Duration
	OAuthTimeout time.Duration

	TTSProvider string
	TTSVoice    string
	STTLanguage string

	// In-memory limits (per session).
	LimitRPS   float64
	LimitBurst int
	// Concurrent WebSocket connections per session (chat + voice per tab).
	WSMaxConnectionsPerSession int

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	WSMaxMessageBytes  int64
	HistoryMaxMessages int
	HistoryIdleTTL     time.Duration
	HistoryMaxSessions int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	LogLevel  string
	LogFormat string
}

func LoadFromEnv() (Config, error) {
	dataDir := envOr("DATA_DIR", "./data")
	cfg := Config{
		Addr:                       envOr("VAI_VOICE_ADDR", ":8000"),
		AppURL:                     envOr("APP_URL", "http://localhost:8000"),
		DataDir:                    dataDir,
		SessionRoot:                envOr("SESSION_ROOT", filepath.Join(dataDir, "sessions")),
		AudioDir:                   envOr("AUDIO_DIR", filepath.Join(dataDir, "audio")),
		GmailCredentialsJSON:       strings.TrimSpace(os.Getenv("GMAIL_CREDENTIALS_JSON")),
		GmailCredentialsFile:       envOr("GMAIL_CREDENTIALS_FILE", "credentials.json"),
		StateStore:                 StateStore(strings.ToLower(envOr("STATE_STORE", string(StateStoreMemory)))),
		RedisURL:                   envOr("REDIS_URL", ""),
		DatabaseURL:                envOr("DATABASE_URL", ""),
		OAuthStateTTL:              envDurationOr("OAUTH_STATE_TTL", 10*time.Minute),
		RulesFile:                  envOr("RULES_FILE", ""),
		LLMPrimaryProvider:         envOr("LLM_PRIMARY_PROVIDER", ""),
		LLMFallbackProvider:        envOr("LLM_FALLBACK_PROVIDER", ""),
		LLMPrimaryModel:            envOr("LLM_PRIMARY_MODEL", "openai/gpt-4o-mini"),
		LLMFallbackModel:           envOr("LLM_FALLBACK_MODEL", "anthropic/claude-3-5-haiku-latest"),
		OpenAIAPIKey:               envOr("OPENAI_API_KEY", ""),
		AnthropicAPIKey:            envOr("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:               envOr("GEMINI_API_KEY", ""),
		LLMTimeout:                 envDurationOr("LLM_TIMEOUT", 30*time.Second),
		ToolTimeout:                envDurationOr("TOOL_TIMEOUT", 20*time.Second),
		VoiceTimeout:               envDurationOr("VOICE_TIMEOUT", 30*time.Second),
		OAuthTimeout:               envDurationOr("OAUTH_TIMEOUT", 30*time.Second),
		TTSProvider:                strings.ToLower(envOr("TTS_PROVIDER", "openai")),
		TTSVoice:                   envOr("TTS_VOICE", "alloy"),
		STTLanguage:                envOr("STT_LANGUAGE", "ja"),
		LimitRPS:                   envFloat64Or("VAI_VOICE_RATE_LIMIT_RPS", 5.0),
		LimitBurst:                 envIntOr("VAI_VOICE_RATE_LIMIT_BURST", 10),
		WSMaxConnectionsPerSession: envIntOr("VAI_VOICE_WS_MAX_CONNECTIONS_PER_SESSION", 8),
		CORSAllowedOrigins:         make(map[string]struct{}),
		WSMaxMessageBytes:          envInt64Or("WS_MAX_MESSAGE_BYTES", 10<<20), // 10 MiB, one recorded utterance
		HistoryMaxMessages:         envIntOr("HISTORY_MAX_MESSAGES", 50),
		HistoryIdleTTL:             envDurationOr("HISTORY_IDLE_TTL", time.Hour),
		HistoryMaxSessions:         envIntOr("HISTORY_MAX_SESSIONS", 10_000),
		ReadHeaderTimeout:          envDurationOr("VAI_VOICE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:        envDurationOr("VAI_VOICE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		LogLevel:                   strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:                  strings.ToLower(envOr("LOG_FORMAT", "text")),
	}

	for _, origin := range splitCSV(os.Getenv("VAI_VOICE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	// The provider of each chain slot defaults to the provider named by its model.
	if cfg.LLMPrimaryProvider == "" {
		provider, _, err := core.ParseModelString(cfg.LLMPrimaryModel)
		if err != nil {
			return Config{}, fmt.Errorf("LLM_PRIMARY_MODEL must be provider/model")
		}
		cfg.LLMPrimaryProvider = provider
	}
	if cfg.LLMFallbackProvider == "" {
		provider, _, err := core.ParseModelString(cfg.LLMFallbackModel)
		if err != nil {
			return Config{}, fmt.Errorf("LLM_FALLBACK_MODEL must be provider/model")
		}
		cfg.LLMFallbackProvider = provider
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants LoadFromEnv enforces. It is exported so
// tests and the CLI can build a Config by hand.
func (cfg Config) Validate() error {
	switch cfg.StateStore {
	case StateStoreMemory:
	case StateStoreRedis:
		if cfg.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when STATE_STORE=redis")
		}
	case StateStorePostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STATE_STORE=postgres")
		}
	default:
		return fmt.Errorf("STATE_STORE must be one of memory|redis|postgres")
	}

	switch cfg.TTSProvider {
	case "openai", "none":
	default:
		return fmt.Errorf("TTS_PROVIDER must be one of openai|none")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be one of text|json")
	}

	if strings.TrimSpace(cfg.SessionRoot) == "" {
		return fmt.Errorf("SESSION_ROOT must not be empty")
	}
	if strings.TrimSpace(cfg.AudioDir) == "" {
		return fmt.Errorf("AUDIO_DIR must not be empty")
	}
	if cfg.OAuthStateTTL <= 0 {
		return fmt.Errorf("OAUTH_STATE_TTL must be > 0")
	}
	if cfg.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT must be > 0")
	}
	if cfg.VoiceTimeout <= 0 {
		return fmt.Errorf("VOICE_TIMEOUT must be > 0")
	}
	if cfg.OAuthTimeout <= 0 {
		return fmt.Errorf("OAUTH_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return fmt.Errorf("WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.HistoryMaxMessages <= 0 {
		return fmt.Errorf("HISTORY_MAX_MESSAGES must be > 0")
	}
	if cfg.HistoryIdleTTL <= 0 {
		return fmt.Errorf("HISTORY_IDLE_TTL must be > 0")
	}
	if cfg.HistoryMaxSessions <= 0 {
		return fmt.Errorf("HISTORY_MAX_SESSIONS must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VAI_VOICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return fmt.Errorf("VAI_VOICE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return fmt.Errorf("VAI_VOICE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.WSMaxConnectionsPerSession < 0 {
		return fmt.Errorf("VAI_VOICE_WS_MAX_CONNECTIONS_PER_SESSION must be >= 0")
	}
	return nil
}

// Models maps each chain provider to the model it should be asked for.
func (cfg Config) Models() map[string]string {
	out := map[string]string{}
	for _, m := range []string{cfg.LLMFallbackModel, cfg.LLMPrimaryModel} {
		if provider, model, err := core.ParseModelString(m); err == nil {
			out[provider] = model
		}
	}
	return out
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
