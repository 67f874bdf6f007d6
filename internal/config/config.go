// Package config defines the YAML configuration for the call bridge.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the call bridge.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Twilio      TwilioConfig      `yaml:"twilio"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Call        CallConfig        `yaml:"call"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Contexts    ContextsConfig    `yaml:"contexts"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`

	// PublicURL is the externally reachable base URL used to build the
	// media-stream WebSocket URL in TwiML (e.g. an ngrok https URL).
	PublicURL string `yaml:"public_url"`

	// StreamPath is the WebSocket path Twilio connects to.
	// Default: /media-stream
	StreamPath string `yaml:"stream_path"`
}

// TwilioConfig configures the telephony provider.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`

	// FromNumber is the E.164 caller ID for outbound calls.
	FromNumber string `yaml:"from_number"`

	// SkipWebhookVerification disables X-Twilio-Signature checks on the
	// voice webhook. Local testing only; unsigned requests are rejected
	// with 403 otherwise.
	SkipWebhookVerification bool `yaml:"skip_webhook_verification"`
}

// OpenAIConfig configures the realtime voice service.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`

	// RealtimeModel is the realtime voice model.
	// Default: gpt-4o-realtime-preview-2024-10-01
	RealtimeModel string `yaml:"realtime_model"`

	// Voice is the synthesized voice name. Default: shimmer
	Voice string `yaml:"voice"`

	// Temperature for the realtime session. Default: 0.8
	Temperature float64 `yaml:"temperature"`

	// TranscriptionModel transcribes caller speech. Default: whisper-1
	TranscriptionModel string `yaml:"transcription_model"`

	// ExtractionModel is the chat model used as a fallback when regex
	// slot extraction finds nothing. Default: gpt-4o-mini
	ExtractionModel string `yaml:"extraction_model"`
}

// CallConfig configures per-call behavior.
type CallConfig struct {
	// MaxDuration is the hard ceiling on call length. Default: 5m
	MaxDuration time.Duration `yaml:"max_duration"`

	// GraceDelay is the pause between detecting a termination condition
	// and closing connections, so a final spoken line can complete.
	// Default: 4s
	GraceDelay time.Duration `yaml:"grace_delay"`

	// AgentName is the name the agent introduces itself with. Default: Sarah
	AgentName string `yaml:"agent_name"`

	// CompanyName is the company the agent represents. Default: Aigiri.ai
	CompanyName string `yaml:"company_name"`
}

// TranscriptsConfig configures transcript recording and post-processing.
type TranscriptsConfig struct {
	// Dir is the directory transcript files are written to.
	// Default: call-transcripts
	Dir string `yaml:"dir"`

	// ExtractSchedule is a cron expression for the periodic interview-slot
	// extraction sweep. Empty disables the sweep. Default: @every 10m
	ExtractSchedule string `yaml:"extract_schedule"`
}

// ContextsConfig configures durable call-context storage.
type ContextsConfig struct {
	// Dir is the directory the staged/batch/attached JSON files live in.
	// Default: call-contexts
	Dir string `yaml:"dir"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector address (e.g. localhost:4317).
	// Empty disables trace export.
	Endpoint string `yaml:"endpoint"`

	// SampleRate is the fraction of traces recorded (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `yaml:"sample_rate"`

	// Insecure disables TLS on the collector connection.
	Insecure bool `yaml:"insecure"`

	// Environment tags exported spans (production, staging, dev).
	Environment string `yaml:"environment"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level: debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Format: json or text. Default: json
	Format string `yaml:"format"`
}

// Default returns a configuration populated with defaults and secrets
// pulled from the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a YAML configuration file, expanding ${ENV} references,
// then applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with defaults and environment fallbacks.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Server.StreamPath == "" {
		c.Server.StreamPath = "/media-stream"
	}

	if c.Twilio.AccountSID == "" {
		c.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if c.Twilio.AuthToken == "" {
		c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if c.Twilio.FromNumber == "" {
		c.Twilio.FromNumber = os.Getenv("PHONE_NUMBER_FROM")
	}

	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.OpenAI.RealtimeModel == "" {
		c.OpenAI.RealtimeModel = "gpt-4o-realtime-preview-2024-10-01"
	}
	if c.OpenAI.Voice == "" {
		c.OpenAI.Voice = "shimmer"
	}
	if c.OpenAI.Temperature == 0 {
		c.OpenAI.Temperature = 0.8
	}
	if c.OpenAI.TranscriptionModel == "" {
		c.OpenAI.TranscriptionModel = "whisper-1"
	}
	if c.OpenAI.ExtractionModel == "" {
		c.OpenAI.ExtractionModel = "gpt-4o-mini"
	}

	if c.Call.MaxDuration == 0 {
		c.Call.MaxDuration = 5 * time.Minute
	}
	if c.Call.GraceDelay == 0 {
		c.Call.GraceDelay = 4 * time.Second
	}
	if c.Call.AgentName == "" {
		c.Call.AgentName = "Sarah"
	}
	if c.Call.CompanyName == "" {
		c.Call.CompanyName = "Aigiri.ai"
	}

	if c.Transcripts.Dir == "" {
		c.Transcripts.Dir = "call-transcripts"
	}
	if c.Transcripts.ExtractSchedule == "" {
		c.Transcripts.ExtractSchedule = "@every 10m"
	}

	if c.Contexts.Dir == "" {
		c.Contexts.Dir = "call-contexts"
	}

	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks configuration invariants that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Server.Port == c.Server.MetricsPort {
		return fmt.Errorf("config: server port and metrics port must differ (both %d)", c.Server.Port)
	}
	if c.Call.MaxDuration < 0 {
		return fmt.Errorf("config: call.max_duration must be positive")
	}
	if c.Call.GraceDelay < 0 {
		return fmt.Errorf("config: call.grace_delay must be positive")
	}
	if c.Call.GraceDelay >= c.Call.MaxDuration {
		return fmt.Errorf("config: call.grace_delay (%s) must be shorter than call.max_duration (%s)",
			c.Call.GraceDelay, c.Call.MaxDuration)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("config: tracing.sample_rate must be between 0 and 1 (got %g)", c.Tracing.SampleRate)
	}
	return nil
}
