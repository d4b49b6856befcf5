package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"COMMAND_PREFIX", "COMMAND_COOLDOWN", "COMMAND_RESCAN_INTERVAL", "ANNOUNCE_TICK",
		"STATE_FILE", "STATE_BACKEND", "STREAM_POLL_INTERVAL", "STREAM_TOKEN_RETRY", "STREAM_ERROR_RETRY", "OTEL_SAMPLE_RATIO",
		"COMMAND_MAX_CONCURRENT", "COMMAND_TIMEOUT"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"cooldown", cfg.CommandCooldown, 5 * time.Second},
		{"rescan", cfg.CommandRescanInterval, 30 * time.Second},
		{"announce tick", cfg.AnnounceTick, 5 * time.Second},
		{"poll", cfg.StreamPollInterval, 30 * time.Second},
		{"token retry", cfg.StreamTokenRetry, 60 * time.Second},
		{"error retry", cfg.StreamErrorRetry, 15 * time.Second},
		{"command timeout", cfg.CommandTimeout, 30 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.CommandPrefix != "!" {
		t.Errorf("prefix = %q, want !", cfg.CommandPrefix)
	}
	if cfg.StateFile != "auto_messages_state.json" || cfg.StateBackend != StateBackendFile {
		t.Errorf("state = %q/%q", cfg.StateFile, cfg.StateBackend)
	}
	if cfg.TraceSampleRate != 1 {
		t.Errorf("sample rate = %v, want 1", cfg.TraceSampleRate)
	}
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("COMMAND_COOLDOWN", "10")
	t.Setenv("STREAM_POLL_INTERVAL", "2m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CommandCooldown != 10*time.Second {
		t.Errorf("cooldown = %v, want 10s", cfg.CommandCooldown)
	}
	if cfg.StreamPollInterval != 2*time.Minute {
		t.Errorf("poll = %v, want 2m", cfg.StreamPollInterval)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	for _, v := range []string{"soon", "-5", "0"} {
		t.Setenv("ANNOUNCE_TICK", v)
		if _, err := Load(); err == nil {
			t.Errorf("Load() with ANNOUNCE_TICK=%q should fail", v)
		}
	}
}

func TestLoadNormalizesChannel(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", " #SomeChannel ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TwitchChannel != "somechannel" {
		t.Errorf("channel = %q, want somechannel", cfg.TwitchChannel)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	t.Setenv("STATE_BACKEND", "")
	cfg, _ := Load()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}

	t.Setenv("TWITCH_CHANNEL", "")
	cfg, _ = Load()
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestValidateStateBackend(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	t.Setenv("STATE_BACKEND", "redis")
	cfg, _ := Load()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown state backend")
	}
}

func TestLivenessEnabled(t *testing.T) {
	cfg := &Config{TwitchClientID: "id"}
	if cfg.LivenessEnabled() {
		t.Error("liveness should need both client id and secret")
	}
	cfg.TwitchClientSecret = "secret"
	if !cfg.LivenessEnabled() {
		t.Error("liveness should be enabled with credentials")
	}
}

func TestLoadCommandMaxConcurrent(t *testing.T) {
	t.Setenv("COMMAND_MAX_CONCURRENT", "8")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CommandMaxConcurrent != 8 {
		t.Fatalf("max concurrent = %d, want 8", cfg.CommandMaxConcurrent)
	}
	for _, bad := range []string{"0", "-2", "many"} {
		t.Setenv("COMMAND_MAX_CONCURRENT", bad)
		if _, err := Load(); err == nil {
			t.Errorf("COMMAND_MAX_CONCURRENT=%q: expected error", bad)
		}
	}
}
