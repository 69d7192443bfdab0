package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var voiceEnvKeys = []string{
	"VAI_VOICE_ADDR",
	"APP_URL",
	"DATA_DIR",
	"SESSION_ROOT",
	"AUDIO_DIR",
	"GMAIL_CREDENTIALS_JSON",
	"GMAIL_CREDENTIALS_FILE",
	"STATE_STORE",
	"REDIS_URL",
	"DATABASE_URL",
	"OAUTH_STATE_TTL",
	"RULES_FILE",
	"LLM_PRIMARY_PROVIDER",
	"LLM_FALLBACK_PROVIDER",
	"LLM_PRIMARY_MODEL",
	"LLM_FALLBACK_MODEL",
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"GEMINI_API_KEY",
	"LLM_TIMEOUT",
	"TOOL_TIMEOUT",
	"VOICE_TIMEOUT",
	"OAUTH_TIMEOUT",
	"TTS_PROVIDER",
	"TTS_VOICE",
	"STT_LANGUAGE",
	"VAI_VOICE_RATE_LIMIT_RPS",
	"VAI_VOICE_RATE_LIMIT_BURST",
	"VAI_VOICE_CORS_ORIGINS",
	"VAI_VOICE_WS_MAX_CONNECTIONS_PER_SESSION",
	"WS_MAX_MESSAGE_BYTES",
	"HISTORY_MAX_MESSAGES", "HISTORY_IDLE_TTL", "HISTORY_MAX_SESSIONS",
	"VAI_VOICE_READ_HEADER_TIMEOUT",
	"VAI_VOICE_SHUTDOWN_GRACE_PERIOD",
	"LOG_LEVEL",
	"LOG_FORMAT",
}

func clearVoiceEnv(t *testing.T) {
	t.Helper()
	for _, key := range voiceEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearVoiceEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8000" {
		t.Fatalf("Addr = %q, want :8000", cfg.Addr)
	}
	if cfg.AppURL != "http://localhost:8000" {
		t.Fatalf("AppURL = %q", cfg.AppURL)
	}
	if cfg.SessionRoot != filepath.Join("./data", "sessions") {
		t.Fatalf("SessionRoot = %q", cfg.SessionRoot)
	}
	if cfg.AudioDir != filepath.Join("./data", "audio") {
		t.Fatalf("AudioDir = %q", cfg.AudioDir)
	}
	if cfg.StateStore != StateStoreMemory {
		t.Fatalf("StateStore = %q, want memory", cfg.StateStore)
	}
	if cfg.OAuthStateTTL != 10*time.Minute {
		t.Fatalf("OAuthStateTTL = %v, want 10m", cfg.OAuthStateTTL)
	}
	if cfg.LLMPrimaryProvider != "openai" || cfg.LLMFallbackProvider != "anthropic" {
		t.Fatalf("providers = %q/%q, want openai/anthropic", cfg.LLMPrimaryProvider, cfg.LLMFallbackProvider)
	}
	if cfg.LLMTimeout != 30*time.Second || cfg.ToolTimeout != 20*time.Second {
		t.Fatalf("timeouts = %v/%v", cfg.LLMTimeout, cfg.ToolTimeout)
	}
	if cfg.TTSProvider != "openai" {
		t.Fatalf("TTSProvider = %q, want openai", cfg.TTSProvider)
	}
	if cfg.HistoryMaxMessages != 50 {
		t.Fatalf("HistoryMaxMessages = %d, want 50", cfg.HistoryMaxMessages)
	}
	if cfg.HistoryIdleTTL != time.Hour || cfg.HistoryMaxSessions != 10_000 {
		t.Fatalf("history bounds = %v/%d", cfg.HistoryIdleTTL, cfg.HistoryMaxSessions)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins = %v, want empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_SessionRootFollowsDataDir(t *testing.T) {
	clearVoiceEnv(t)
	t.Setenv("DATA_DIR", "/var/lib/vai")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.SessionRoot != "/var/lib/vai/sessions" {
		t.Fatalf("SessionRoot = %q", cfg.SessionRoot)
	}
}

func TestLoadFromEnv_ModelsAndProviders(t *testing.T) {
	clearVoiceEnv(t)
	t.Setenv("LLM_PRIMARY_MODEL", "gemini/gemini-2.5-flash")
	t.Setenv("LLM_FALLBACK_MODEL", "openai/gpt-4o")
	t.Setenv("LLM_FALLBACK_PROVIDER", "anthropic")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.LLMPrimaryProvider != "gemini" {
		t.Fatalf("LLMPrimaryProvider = %q, want gemini", cfg.LLMPrimaryProvider)
	}
	if cfg.LLMFallbackProvider != "anthropic" {
		t.Fatalf("LLMFallbackProvider = %q, want explicit anthropic", cfg.LLMFallbackProvider)
	}
	models := cfg.Models()
	if models["gemini"] != "gemini-2.5-flash" || models["openai"] != "gpt-4o" {
		t.Fatalf("Models() = %v", models)
	}
}

func TestLoadFromEnv_ParsesCORSOrigins(t *testing.T) {
	clearVoiceEnv(t)
	t.Setenv("VAI_VOICE_CORS_ORIGINS", "https://a.example, https://b.example,,")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://b.example"]; !ok {
		t.Fatalf("missing https://b.example in %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown state store", env: map[string]string{"STATE_STORE": "etcd"}, wantErr: "STATE_STORE"},
		{name: "redis without url", env: map[string]string{"STATE_STORE": "redis"}, wantErr: "REDIS_URL"},
		{name: "postgres without url", env: map[string]string{"STATE_STORE": "postgres"}, wantErr: "DATABASE_URL"},
		{name: "unknown tts", env: map[string]string{"TTS_PROVIDER": "cartesia"}, wantErr: "TTS_PROVIDER"},
		{name: "bad log format", env: map[string]string{"LOG_FORMAT": "xml"}, wantErr: "LOG_FORMAT"},
		{name: "bad primary model", env: map[string]string{"LLM_PRIMARY_MODEL": "gpt-4o"}, wantErr: "LLM_PRIMARY_MODEL"},
		{name: "zero llm timeout", env: map[string]string{"LLM_TIMEOUT": "0s"}, wantErr: "LLM_TIMEOUT"},
		{name: "negative rps", env: map[string]string{"VAI_VOICE_RATE_LIMIT_RPS": "-1"}, wantErr: "VAI_VOICE_RATE_LIMIT_RPS"},
		{name: "zero history", env: map[string]string{"HISTORY_MAX_MESSAGES": "0"}, wantErr: "HISTORY_MAX_MESSAGES"},
		{name: "zero history ttl", env: map[string]string{"HISTORY_IDLE_TTL": "0s"}, wantErr: "HISTORY_IDLE_TTL"},
		{name: "zero history sessions", env: map[string]string{"HISTORY_MAX_SESSIONS": "0"}, wantErr: "HISTORY_MAX_SESSIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearVoiceEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv_MalformedNumbersFallBackToDefaults(t *testing.T) {
	clearVoiceEnv(t)
	t.Setenv("VAI_VOICE_RATE_LIMIT_BURST", "lots")
	t.Setenv("TOOL_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.LimitBurst != 10 {
		t.Fatalf("LimitBurst = %d, want 10", cfg.LimitBurst)
	}
	if cfg.ToolTimeout != 20*time.Second {
		t.Fatalf("ToolTimeout = %v, want 20s", cfg.ToolTimeout)
	}
}
