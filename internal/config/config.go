// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Backend mode names.
const (
	ModeComposed = "composed"
	ModeManaged  = "managed"
)

// Config is the full server configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// PublicStreamURL is the wss:// URL callers' media streams connect to.
	PublicStreamURL string

	// PublicStatusURL is the https:// URL for call status callbacks.
	PublicStatusURL string

	// Mode selects the backend strategy, "composed" or "managed".
	Mode string

	// Composed-mode service endpoints.
	RecognizerURL  string
	SynthesizerURL string
	EngineURL      string
	EngineAPIKey   string
	SynthAPIKey    string

	// Managed-mode service endpoint.
	ManagedServiceURL string
	ManagedAPIKey     string

	// Twilio account credentials.
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// RedisAddr enables Redis-backed call records when set.
	RedisAddr     string
	RedisPassword string

	// Session behavior.
	SessionTTL      time.Duration
	ReplyTimeout    time.Duration
	BargeInMinChars int

	// Default agent behavior for unprovisioned calls.
	DefaultPrompt   string
	DefaultGreeting string
	DefaultVoice    string

	// NotifyRecipient receives call status notifications when set.
	NotifyRecipient string

	LogLevel slog.Level
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:            envOr("VOICELINE_ADDR", ":8080"),
		PublicStreamURL: os.Getenv("VOICELINE_STREAM_URL"),
		PublicStatusURL: os.Getenv("VOICELINE_STATUS_URL"),
		Mode:            envOr("VOICELINE_MODE", ModeComposed),

		RecognizerURL:  os.Getenv("VOICELINE_STT_URL"),
		SynthesizerURL: os.Getenv("VOICELINE_TTS_URL"),
		EngineURL:      os.Getenv("VOICELINE_ENGINE_URL"),
		EngineAPIKey:   os.Getenv("VOICELINE_ENGINE_API_KEY"),
		SynthAPIKey:    os.Getenv("VOICELINE_TTS_API_KEY"),

		ManagedServiceURL: os.Getenv("VOICELINE_MANAGED_URL"),
		ManagedAPIKey:     os.Getenv("VOICELINE_MANAGED_API_KEY"),

		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),

		RedisAddr:     os.Getenv("VOICELINE_REDIS_ADDR"),
		RedisPassword: os.Getenv("VOICELINE_REDIS_PASSWORD"),

		SessionTTL:      envDurationOr("VOICELINE_SESSION_TTL", 5*time.Minute),
		ReplyTimeout:    envDurationOr("VOICELINE_REPLY_TIMEOUT", 15*time.Second),
		BargeInMinChars: envIntOr("VOICELINE_BARGE_IN_MIN_CHARS", 10),

		DefaultPrompt:   envOr("VOICELINE_DEFAULT_PROMPT", "You are a helpful voice assistant. Keep replies short and conversational."),
		DefaultGreeting: envOr("VOICELINE_DEFAULT_GREETING", "Hello! How can I help you today?"),
		DefaultVoice:    os.Getenv("VOICELINE_DEFAULT_VOICE"),

		NotifyRecipient: os.Getenv("VOICELINE_NOTIFY_RECIPIENT"),

		LogLevel: parseLogLevel(envOr("VOICELINE_LOG_LEVEL", "info")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeComposed:
		if c.RecognizerURL == "" || c.SynthesizerURL == "" || c.EngineURL == "" {
			return fmt.Errorf("composed mode requires VOICELINE_STT_URL, VOICELINE_TTS_URL, and VOICELINE_ENGINE_URL")
		}
	case ModeManaged:
		if c.ManagedServiceURL == "" {
			return fmt.Errorf("managed mode requires VOICELINE_MANAGED_URL")
		}
	default:
		return fmt.Errorf("unknown mode %q (want %q or %q)", c.Mode, ModeComposed, ModeManaged)
	}

	if c.PublicStreamURL == "" {
		return fmt.Errorf("VOICELINE_STREAM_URL is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
