package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models toolgate.yml.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Approval ApprovalConfig  `yaml:"approval"`
	Tickets  TicketsConfig   `yaml:"tickets"`
	Audit    AuditConfig     `yaml:"audit"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	BasePath       string   `yaml:"base_path"`
	MCPPath        string   `yaml:"mcp_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// JWTSecret is normally supplied through TOOLGATE_JWT_SECRET.
	JWTSecret string `yaml:"jwt_secret"`
}

type ApprovalConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type TicketsConfig struct {
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	HeartbeatGrace time.Duration `yaml:"heartbeat_grace"`
	MaxAttempts    int           `yaml:"max_attempts"`
	EnforceClaimer bool          `yaml:"enforce_claimer"`
}

type AuditConfig struct {
	Buffer         int `yaml:"buffer"`
	ResultMaxChars int `yaml:"result_max_chars"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with toolgate init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if !strings.HasPrefix(c.Server.MCPPath, "/") {
		return fmt.Errorf("config.server.mcp_path must start with /")
	}
	if c.Server.BasePath == c.Server.MCPPath {
		return fmt.Errorf("config.server.base_path and mcp_path must differ")
	}
	if c.Approval.Timeout <= 0 {
		return fmt.Errorf("config.approval.timeout must be positive")
	}
	if c.Tickets.LeaseDuration <= 0 {
		return fmt.Errorf("config.tickets.lease_duration must be positive")
	}
	if c.Tickets.HeartbeatGrace <= 0 {
		return fmt.Errorf("config.tickets.heartbeat_grace must be positive")
	}
	if c.Tickets.MaxAttempts < 1 {
		return fmt.Errorf("config.tickets.max_attempts must be at least 1")
	}
	if c.Audit.Buffer < 1 {
		return fmt.Errorf("config.audit.buffer must be at least 1")
	}
	if c.Audit.ResultMaxChars < 1 {
		return fmt.Errorf("config.audit.result_max_chars must be at least 1")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "toolgate.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api
  mcp_path: /mcp
  allowed_origins: []

approval:
  # How long a gated tool call waits for an operator decision.
  timeout: 5m

tickets:
  lease_duration: 5m
  heartbeat_grace: 2m
  max_attempts: 3
  # When true only the current claimer may move a ticket to
  # in_progress, waiting_review, blocked or done.
  enforce_claimer: false

audit:
  buffer: 256
  result_max_chars: 500

webhooks: []
`
