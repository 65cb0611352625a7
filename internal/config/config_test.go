package config

import (
	"testing"
	"time"
)

func TestLoadComposedDefaults(t *testing.T) {
	t.Setenv("VOICELINE_STREAM_URL", "wss://example.com/media-stream")
	t.Setenv("VOICELINE_STT_URL", "wss://stt.example.com")
	t.Setenv("VOICELINE_TTS_URL", "https://tts.example.com")
	t.Setenv("VOICELINE_ENGINE_URL", "https://engine.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeComposed {
		t.Fatalf("Mode = %q, want %q", cfg.Mode, ModeComposed)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.BargeInMinChars != 10 {
		t.Fatalf("BargeInMinChars = %d, want 10", cfg.BargeInMinChars)
	}
	if cfg.ReplyTimeout != 15*time.Second {
		t.Fatalf("ReplyTimeout = %v, want 15s", cfg.ReplyTimeout)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Fatalf("SessionTTL = %v, want 5m", cfg.SessionTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VOICELINE_MODE", ModeManaged)
	t.Setenv("VOICELINE_MANAGED_URL", "wss://voice.example.com")
	t.Setenv("VOICELINE_STREAM_URL", "wss://example.com/media-stream")
	t.Setenv("VOICELINE_BARGE_IN_MIN_CHARS", "4")
	t.Setenv("VOICELINE_REPLY_TIMEOUT", "3s")
	t.Setenv("VOICELINE_NOTIFY_RECIPIENT", "ops@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeManaged {
		t.Fatalf("Mode = %q, want %q", cfg.Mode, ModeManaged)
	}
	if cfg.BargeInMinChars != 4 {
		t.Fatalf("BargeInMinChars = %d, want 4", cfg.BargeInMinChars)
	}
	if cfg.ReplyTimeout != 3*time.Second {
		t.Fatalf("ReplyTimeout = %v, want 3s", cfg.ReplyTimeout)
	}
	if cfg.NotifyRecipient != "ops@example.com" {
		t.Fatalf("NotifyRecipient = %q", cfg.NotifyRecipient)
	}
}

func TestLoadRejectsIncompleteComposedMode(t *testing.T) {
	t.Setenv("VOICELINE_MODE", ModeComposed)
	t.Setenv("VOICELINE_STREAM_URL", "wss://example.com/media-stream")
	t.Setenv("VOICELINE_STT_URL", "wss://stt.example.com")
	t.Setenv("VOICELINE_TTS_URL", "")
	t.Setenv("VOICELINE_ENGINE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted composed mode without synthesis endpoints")
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("VOICELINE_MODE", "hybrid")
	t.Setenv("VOICELINE_STREAM_URL", "wss://example.com/media-stream")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted unknown mode")
	}
}
