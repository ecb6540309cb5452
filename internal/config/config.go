package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Secrets are credentials and machine-local paths, loaded from the
// environment (optionally seeded from a .env file), never from the YAML
// config that may be checked in.
type Secrets struct {
	TelegramToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	OpenAIKey     string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	DBPath        string `envconfig:"MAYA_DB_PATH" default:"maya.db"`
}

// LoadSecrets reads .env when present, then the process environment.
func LoadSecrets(envFile string) (Secrets, error) {
	if envFile != "" {
		// Missing .env is fine; the environment may carry everything.
		_ = godotenv.Load(envFile)
	}
	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return Secrets{}, fmt.Errorf("config: read environment: %w", err)
	}
	return s, nil
}

// Config is the bot's YAML-file configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Chat      ChatConfig      `yaml:"chat"`
	Stream    StreamConfig    `yaml:"stream"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// ModelConfig selects which completion models users may pick.
type ModelConfig struct {
	Default   string   `yaml:"default"`
	Available []string `yaml:"available"`
}

// ChatConfig shapes dialog behavior.
type ChatConfig struct {
	SystemPrompt        string `yaml:"system_prompt"`
	NewDialogTimeoutSec int    `yaml:"new_dialog_timeout"`
	EnableStreaming     *bool  `yaml:"enable_streaming"`
}

// NewDialogTimeout returns the idle window after which a new dialog starts.
func (c ChatConfig) NewDialogTimeout() time.Duration {
	return time.Duration(c.NewDialogTimeoutSec) * time.Second
}

// Streaming reports whether answers stream into the placeholder message
// (default) or arrive in one final edit.
func (c ChatConfig) Streaming() bool {
	return c.EnableStreaming == nil || *c.EnableStreaming
}

// StreamConfig tunes the relay. The quiescence window and publish delay
// encode a transport rate-limit assumption, so they are configurable.
type StreamConfig struct {
	QuiescenceChars int `yaml:"quiescence_chars"`
	PublishDelayMS  int `yaml:"publish_delay_ms"`
	MaxMessageLen   int `yaml:"max_message_len"`
}

// PublishDelay returns the post-edit backoff.
func (c StreamConfig) PublishDelay() time.Duration {
	return time.Duration(c.PublishDelayMS) * time.Millisecond
}

// TelegramConfig shapes the transport.
type TelegramConfig struct {
	AllowedUsernames []string `yaml:"allowed_usernames"`
	PollTimeoutSec   int      `yaml:"poll_timeout"`
}

// DashboardConfig controls the ops dashboard HTTP server.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and validates the YAML config at path. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Model.Default == "" {
		c.Model.Default = DefaultModel
	}
	if len(c.Model.Available) == 0 {
		c.Model.Available = []string{c.Model.Default}
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = DefaultSystemPrompt
	}
	if c.Chat.NewDialogTimeoutSec == 0 {
		c.Chat.NewDialogTimeoutSec = int(DefaultNewDialogTimeout / time.Second)
	}
	if c.Stream.QuiescenceChars == 0 {
		c.Stream.QuiescenceChars = DefaultQuiescenceChars
	}
	if c.Stream.PublishDelayMS == 0 {
		c.Stream.PublishDelayMS = int(DefaultPublishDelay / time.Millisecond)
	}
	if c.Stream.MaxMessageLen == 0 {
		c.Stream.MaxMessageLen = DefaultMaxMessageLen
	}
	if c.Telegram.PollTimeoutSec == 0 {
		c.Telegram.PollTimeoutSec = DefaultPollTimeout
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = DefaultDashboardAddr
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Stream.QuiescenceChars < 1 {
		return fmt.Errorf("config: stream.quiescence_chars must be >= 1, got %d", c.Stream.QuiescenceChars)
	}
	if c.Stream.MaxMessageLen < 1 || c.Stream.MaxMessageLen > DefaultMaxMessageLen {
		return fmt.Errorf("config: stream.max_message_len must be in [1, %d], got %d",
			DefaultMaxMessageLen, c.Stream.MaxMessageLen)
	}
	if c.Stream.PublishDelayMS < 0 {
		return fmt.Errorf("config: stream.publish_delay_ms must be >= 0, got %d", c.Stream.PublishDelayMS)
	}
	if c.Chat.NewDialogTimeoutSec < 0 {
		return fmt.Errorf("config: chat.new_dialog_timeout must be >= 0, got %d", c.Chat.NewDialogTimeoutSec)
	}
	defaultListed := false
	for _, m := range c.Model.Available {
		if m == c.Model.Default {
			defaultListed = true
			break
		}
	}
	if !defaultListed {
		return fmt.Errorf("config: model.default %q is not in model.available", c.Model.Default)
	}
	return nil
}
