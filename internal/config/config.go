// Package config holds all pilot configuration and owns the ~/.pilot
// directory layout: config.yaml, the shared-secret token file, the rolling
// context document, the operator prompt override, logs, and static assets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pilot configuration.
type Config struct {
	// Home is the pilot state directory. Defaults to ~/.pilot.
	Home string `yaml:"home"`

	// Server settings
	Server ServerConfig `yaml:"server"`

	// Gemini translator settings
	Gemini GeminiConfig `yaml:"gemini"`

	// Rolling context document settings
	Context ContextConfig `yaml:"context"`

	// Tmux aggregator settings
	Tmux TmuxConfig `yaml:"tmux"`

	// Diagnostic logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SettleDelay is how long the dispatcher waits after executing actions
	// before re-capturing tmux state for the follow-up state push.
	SettleDelay string `yaml:"settle_delay"`
}

// GeminiConfig configures the translation model.
type GeminiConfig struct {
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// ContextConfig configures the rolling context document.
type ContextConfig struct {
	// MaxLines is the rendered line ceiling for context.md.
	MaxLines int `yaml:"max_lines"`

	// PromptBudget bounds how many characters of the document are included
	// in the translator prompt.
	PromptBudget int `yaml:"prompt_budget"`
}

// TmuxConfig configures the session state aggregator.
type TmuxConfig struct {
	// Timeout bounds every tmux subprocess invocation.
	Timeout string `yaml:"timeout"`

	// CaptureLines is the maximum pane scrollback surfaced per session.
	CaptureLines int `yaml:"capture_lines"`
}

// LoggingConfig configures diagnostic file logging under <home>/logs.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Home: DefaultHome(),

		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        7777,
			SettleDelay: "1s",
		},

		Gemini: GeminiConfig{
			Model:           "gemini-2.0-flash-exp",
			Temperature:     0.1,
			MaxOutputTokens: 1000,
		},

		Context: ContextConfig{
			MaxLines:     60,
			PromptBudget: 500,
		},

		Tmux: TmuxConfig{
			Timeout:      "5s",
			CaptureLines: 100,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultHome returns ~/.pilot, falling back to a relative .pilot directory
// when the home directory cannot be resolved.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pilot"
	}
	return filepath.Join(home, ".pilot")
}

// Load loads configuration from a YAML file, layered over defaults.
// A missing file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// API key priority: GEMINI_API_KEY over GOOGLE_API_KEY over config file.
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if model := os.Getenv("PILOT_MODEL"); model != "" {
		c.Gemini.Model = model
	}
	if port := os.Getenv("PILOT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if home := os.Getenv("PILOT_HOME"); home != "" {
		c.Home = home
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home directory is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Context.MaxLines < 10 {
		return fmt.Errorf("context max_lines must be at least 10, got %d", c.Context.MaxLines)
	}
	return nil
}

// TmuxTimeout returns the tmux subprocess timeout as a duration.
func (c *Config) TmuxTimeout() time.Duration {
	d, err := time.ParseDuration(c.Tmux.Timeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// SettleDelay returns the post-dispatch settle delay as a duration.
func (c *Config) SettleDelay() time.Duration {
	d, err := time.ParseDuration(c.Server.SettleDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ConfigPath returns <home>/config.yaml.
func (c *Config) ConfigPath() string { return filepath.Join(c.Home, "config.yaml") }

// TokenPath returns <home>/token, the shared-secret file.
func (c *Config) TokenPath() string { return filepath.Join(c.Home, "token") }

// ContextPath returns <home>/context.md, the rolling context document.
func (c *Config) ContextPath() string { return filepath.Join(c.Home, "context.md") }

// PromptPath returns <home>/prompt.md, the operator instruction override.
func (c *Config) PromptPath() string { return filepath.Join(c.Home, "prompt.md") }

// LogsDir returns <home>/logs.
func (c *Config) LogsDir() string { return filepath.Join(c.Home, "logs") }

// StaticDir returns <home>/static, served under /static/.
func (c *Config) StaticDir() string { return filepath.Join(c.Home, "static") }

// EnsureHome creates the pilot state directory and its logs subdirectory.
func (c *Config) EnsureHome() error {
	if err := os.MkdirAll(c.Home, 0755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	if err := os.MkdirAll(c.LogsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}
