package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Providers selectable through AI_PROVIDER.
const (
	ProviderAuto   = "auto"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// Config contains all runtime settings for the avatar backend.
type Config struct {
	BindAddr         string
	Environment      string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	// Open by default: the browser frontend is typically served from a
	// different origin than the API.
	AllowAnyOrigin bool

	AIProvider     string
	OpenAIAPIKey   string
	OpenAILLMModel string
	OpenAISTTModel string
	OpenAITTSModel string

	DIDAPIKey  string
	DIDBaseURL string

	RedisURL    string
	DatabaseURL string

	MaxTextChars   int
	HistoryLimit   int
	HistoryContext int

	STTTimeout         time.Duration
	LLMTimeout         time.Duration
	TTSTimeout         time.Duration
	AvatarTimeout      time.Duration
	AvatarPollInterval time.Duration

	SessionIdleTimeout time.Duration
	ArtifactCacheTTL   time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		Environment:      envOrDefault("ENVIRONMENT", "development"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "avatarai"),
		AllowAnyOrigin:   true,
		AIProvider:       strings.ToLower(envOrDefault("AI_PROVIDER", ProviderAuto)),
		OpenAIAPIKey:     envTrimmed("OPENAI_API_KEY"),
		OpenAILLMModel:   envOrDefault("OPENAI_LLM_MODEL", "gpt-4o-mini"),
		OpenAISTTModel:   envOrDefault("OPENAI_STT_MODEL", "whisper-1"),
		OpenAITTSModel:   envOrDefault("OPENAI_TTS_MODEL", "tts-1-hd"),
		DIDAPIKey:        envTrimmed("DID_API_KEY"),
		DIDBaseURL:       envOrDefault("DID_BASE_URL", "https://api.d-id.com"),
		RedisURL:         envTrimmed("REDIS_URL"),
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		MaxTextChars:     500,
		HistoryLimit:     20,
		HistoryContext:   10,
		STTTimeout:       30 * time.Second,
		LLMTimeout:       30 * time.Second,
		TTSTimeout:       30 * time.Second,
		// Upload plus render plus polling; the vendor renders a short clip
		// in tens of seconds.
		AvatarTimeout:      150 * time.Second,
		AvatarPollInterval: 3 * time.Second,
		SessionIdleTimeout: 0,
		ArtifactCacheTTL:   24 * time.Hour,
		ShutdownTimeout:    15 * time.Second,
	}

	var err error
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.MaxTextChars, err = intFromEnv("MAX_TEXT_CHARS", cfg.MaxTextChars); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.HistoryLimit); err != nil {
		return Config{}, err
	}
	if cfg.HistoryContext, err = intFromEnv("HISTORY_CONTEXT", cfg.HistoryContext); err != nil {
		return Config{}, err
	}
	if cfg.STTTimeout, err = durationFromEnv("STT_TIMEOUT", cfg.STTTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout); err != nil {
		return Config{}, err
	}
	if cfg.TTSTimeout, err = durationFromEnv("TTS_TIMEOUT", cfg.TTSTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AvatarTimeout, err = durationFromEnv("AVATAR_TIMEOUT", cfg.AvatarTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AvatarPollInterval, err = durationFromEnv("AVATAR_POLL_INTERVAL", cfg.AvatarPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleTimeout, err = durationFromEnv("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ArtifactCacheTTL, err = durationFromEnv("ARTIFACT_CACHE_TTL", cfg.ArtifactCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BindAddr) == "" {
		return fmt.Errorf("APP_BIND_ADDR must not be empty")
	}
	switch c.AIProvider {
	case ProviderAuto, ProviderOpenAI, ProviderMock:
	default:
		return fmt.Errorf("AI_PROVIDER must be one of auto, openai, mock (got %q)", c.AIProvider)
	}
	if c.AIProvider == ProviderOpenAI && c.OpenAIAPIKey == "" {
		return fmt.Errorf("AI_PROVIDER=openai requires OPENAI_API_KEY")
	}
	if c.MaxTextChars <= 0 {
		return fmt.Errorf("MAX_TEXT_CHARS must be positive")
	}
	if c.HistoryLimit < 2 {
		return fmt.Errorf("HISTORY_LIMIT must be at least 2")
	}
	if c.HistoryContext < 0 {
		return fmt.Errorf("HISTORY_CONTEXT must be >= 0")
	}
	for key, d := range map[string]time.Duration{
		"STT_TIMEOUT":    c.STTTimeout,
		"LLM_TIMEOUT":    c.LLMTimeout,
		"TTS_TIMEOUT":    c.TTSTimeout,
		"AVATAR_TIMEOUT": c.AvatarTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.AvatarPollInterval <= 0 {
		return fmt.Errorf("AVATAR_POLL_INTERVAL must be positive")
	}
	if c.AvatarPollInterval >= c.AvatarTimeout {
		return fmt.Errorf("AVATAR_POLL_INTERVAL must be shorter than AVATAR_TIMEOUT")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
