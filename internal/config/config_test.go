package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8000" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8000")
	}
	if cfg.AIProvider != ProviderAuto {
		t.Fatalf("AIProvider = %q, want %q", cfg.AIProvider, ProviderAuto)
	}
	if cfg.OpenAILLMModel != "gpt-4o-mini" {
		t.Fatalf("OpenAILLMModel = %q, want %q", cfg.OpenAILLMModel, "gpt-4o-mini")
	}
	if cfg.MaxTextChars != 500 {
		t.Fatalf("MaxTextChars = %d, want 500", cfg.MaxTextChars)
	}
	if cfg.HistoryLimit != 20 || cfg.HistoryContext != 10 {
		t.Fatalf("history limits = %d/%d, want 20/10", cfg.HistoryLimit, cfg.HistoryContext)
	}
	if cfg.SessionIdleTimeout != 0 {
		t.Fatalf("SessionIdleTimeout = %v, want 0 (disabled)", cfg.SessionIdleTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9100")
	t.Setenv("AI_PROVIDER", "MOCK")
	t.Setenv("AVATAR_TIMEOUT", "45s")
	t.Setenv("AVATAR_POLL_INTERVAL", "500ms")
	t.Setenv("SESSION_IDLE_TIMEOUT", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9100" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9100")
	}
	if cfg.AIProvider != ProviderMock {
		t.Fatalf("AIProvider = %q, want %q (case-folded)", cfg.AIProvider, ProviderMock)
	}
	if cfg.AvatarTimeout != 45*time.Second {
		t.Fatalf("AvatarTimeout = %v, want 45s", cfg.AvatarTimeout)
	}
	if cfg.AvatarPollInterval != 500*time.Millisecond {
		t.Fatalf("AvatarPollInterval = %v, want 500ms", cfg.AvatarPollInterval)
	}
	if cfg.SessionIdleTimeout != 2*time.Minute {
		t.Fatalf("SessionIdleTimeout = %v, want 2m", cfg.SessionIdleTimeout)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown provider", "AI_PROVIDER", "claude"},
		{"openai without key", "AI_PROVIDER", "openai"},
		{"bad duration", "LLM_TIMEOUT", "soon"},
		{"zero timeout", "TTS_TIMEOUT", "0s"},
		{"poll exceeds budget", "AVATAR_POLL_INTERVAL", "10m"},
		{"bad int", "MAX_TEXT_CHARS", "lots"},
		{"negative cap", "MAX_TEXT_CHARS", "-1"},
		{"tiny history", "HISTORY_LIMIT", "1"},
		{"bad bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %s=%q", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"ENVIRONMENT",
		"APP_METRICS_NAMESPACE",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_ALLOW_ANY_ORIGIN",
		"AI_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_LLM_MODEL",
		"OPENAI_STT_MODEL",
		"OPENAI_TTS_MODEL",
		"DID_API_KEY",
		"DID_BASE_URL",
		"REDIS_URL",
		"DATABASE_URL",
		"MAX_TEXT_CHARS",
		"HISTORY_LIMIT",
		"HISTORY_CONTEXT",
		"STT_TIMEOUT",
		"LLM_TIMEOUT",
		"TTS_TIMEOUT",
		"AVATAR_TIMEOUT",
		"AVATAR_POLL_INTERVAL",
		"SESSION_IDLE_TIMEOUT",
		"ARTIFACT_CACHE_TTL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
