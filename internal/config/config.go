package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models hustleup.yml.
type Config struct {
	Payments struct {
		// MaxRequests is the lifetime cap on payout requests per gig.
		MaxRequests int `yaml:"max_requests"`
		// CooldownHours is the window after a payout request during which
		// a new request is refused.
		CooldownHours int `yaml:"cooldown_hours"`
		// StallThresholdHours flags a payout as stalled when the gig has
		// sat in awaiting_payout longer than this.
		StallThresholdHours int `yaml:"stall_threshold_hours"`
	} `yaml:"payments"`
	Attachments struct {
		// Dir is where uploaded report attachments are stored. Relative
		// paths resolve against the workspace.
		Dir string `yaml:"dir"`
	} `yaml:"attachments"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Log      struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Payments.MaxRequests = 5
	cfg.Payments.CooldownHours = 2
	cfg.Payments.StallThresholdHours = 72
	cfg.Attachments.Dir = ".hustleup/attachments"
	cfg.Log.Level = "info"
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Payments.MaxRequests <= 0 {
		return fmt.Errorf("config.payments.max_requests must be positive")
	}
	if c.Payments.CooldownHours < 0 {
		return fmt.Errorf("config.payments.cooldown_hours must not be negative")
	}
	if c.Payments.StallThresholdHours <= 0 {
		return fmt.Errorf("config.payments.stall_threshold_hours must be positive")
	}
	if c.Attachments.Dir == "" {
		return fmt.Errorf("config.attachments.dir is required")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hustleup.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Fields left
// unset inherit defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
