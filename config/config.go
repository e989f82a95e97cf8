package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	Assistant AssistantConfig `yaml:"assistant"`
	Audio     AudioConfig     `yaml:"audio"`
	Chat      ChatConfig      `yaml:"chat"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AssistantConfig selects and configures the remote assistant transport.
type AssistantConfig struct {
	Transport      string `yaml:"transport"` // "http", "websocket" or "openai"
	Endpoint       string `yaml:"endpoint"`  // base URL (http) or ws URL (websocket)
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	OpenAIModel    string `yaml:"openai_model"` // chat model for the openai transport
	OpenAIVoice    string `yaml:"openai_voice"` // speech voice for the openai transport
}

// Timeout returns the request timeout as a duration.
func (a AssistantConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// AudioConfig contains capture parameters.
type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Encoding   string `yaml:"encoding"` // "pcm16", "ulaw" or "alaw"
}

// ChatConfig contains conversation defaults.
type ChatConfig struct {
	DefaultLanguage string `yaml:"default_language"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Assistant: AssistantConfig{
			Transport:      "http",
			Endpoint:       "http://localhost:5000",
			TimeoutSeconds: 60,
			OpenAIModel:    "gpt-4o-mini",
			OpenAIVoice:    "alloy",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Encoding:   "pcm16",
		},
		Chat: ChatConfig{
			DefaultLanguage: "en",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads and parses the configuration file, filling gaps with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	switch c.Assistant.Transport {
	case "http", "websocket", "openai":
	default:
		return fmt.Errorf("config: unknown assistant transport %q", c.Assistant.Transport)
	}
	if c.Assistant.Transport != "openai" && c.Assistant.Endpoint == "" {
		return fmt.Errorf("config: assistant endpoint is required for the %s transport", c.Assistant.Transport)
	}
	if c.Assistant.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: assistant timeout must be positive, got %d", c.Assistant.TimeoutSeconds)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("config: audio sample rate must be positive, got %d", c.Audio.SampleRate)
	}
	switch c.Audio.Encoding {
	case "pcm16", "ulaw", "alaw":
	default:
		return fmt.Errorf("config: unknown audio encoding %q", c.Audio.Encoding)
	}
	if !IsSupportedLanguage(c.Chat.DefaultLanguage) {
		return fmt.Errorf("config: unsupported default language %q", c.Chat.DefaultLanguage)
	}
	return nil
}
