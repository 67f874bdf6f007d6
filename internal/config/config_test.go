package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.StreamPath != "/media-stream" {
		t.Errorf("Server.StreamPath = %q, want /media-stream", cfg.Server.StreamPath)
	}
	if cfg.Call.MaxDuration != 5*time.Minute {
		t.Errorf("Call.MaxDuration = %s, want 5m", cfg.Call.MaxDuration)
	}
	if cfg.OpenAI.Voice != "shimmer" {
		t.Errorf("OpenAI.Voice = %q, want shimmer", cfg.OpenAI.Voice)
	}
	if cfg.Call.AgentName != "Sarah" {
		t.Errorf("Call.AgentName = %q, want Sarah", cfg.Call.AgentName)
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("Tracing.SampleRate = %g, want 1.0", cfg.Tracing.SampleRate)
	}
	if cfg.Twilio.SkipWebhookVerification {
		t.Error("webhook verification must be on by default")
	}
}

func TestLoad_FileAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_BRIDGE_KEY", "key-from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "callbridge.yaml")
	data := `
server:
  port: 9001
  public_url: https://example.ngrok.app
openai:
  api_key: ${TEST_BRIDGE_KEY}
call:
  max_duration: 3m
  grace_delay: 2s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.OpenAI.APIKey != "key-from-env" {
		t.Errorf("OpenAI.APIKey = %q, want env expansion", cfg.OpenAI.APIKey)
	}
	if cfg.Call.MaxDuration != 3*time.Minute {
		t.Errorf("Call.MaxDuration = %s, want 3m", cfg.Call.MaxDuration)
	}
	// Unset sections still get defaults.
	if cfg.Transcripts.Dir != "call-transcripts" {
		t.Errorf("Transcripts.Dir = %q, want default", cfg.Transcripts.Dir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"same ports", func(c *Config) { c.Server.MetricsPort = c.Server.Port }, true},
		{"grace exceeds ceiling", func(c *Config) {
			c.Call.MaxDuration = 2 * time.Second
			c.Call.GraceDelay = 5 * time.Second
		}, true},
		{"sample rate out of range", func(c *Config) { c.Tracing.SampleRate = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
