// Package config loads and validates taskbridge configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcrlabs/taskbridge/internal/logging"
)

// Config represents the main configuration
type Config struct {
	Version  string          `yaml:"version"`
	Telegram *TelegramConfig `yaml:"telegram"`
	Asana    *AsanaConfig    `yaml:"asana"`
	OpenAI   *OpenAIConfig   `yaml:"openai"`
	Pipeline *PipelineConfig `yaml:"pipeline"`
	Logging  *logging.Config `yaml:"logging"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	BotToken   string  `yaml:"bot_token"`
	AllowedIDs []int64 `yaml:"allowed_ids,omitempty"` // User/chat IDs allowed to use the bot (empty = everyone)
}

// AsanaConfig holds Asana tracker settings
type AsanaConfig struct {
	AccessToken string           `yaml:"access_token"` // Personal access token
	WorkspaceID string           `yaml:"workspace_id"` // Asana workspace GID
	Projects    []*ProjectConfig `yaml:"projects"`     // Projects offered in the selection keyboard
}

// ProjectConfig is one selectable Asana project
type ProjectConfig struct {
	Name string `yaml:"name"`
	GID  string `yaml:"gid"`
}

// OpenAIConfig holds the AI normalizer settings
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// PipelineConfig holds the conversion pipeline tunables
type PipelineConfig struct {
	Debounce         time.Duration `yaml:"debounce"`           // Window extending a forward batch
	TitleLookback    time.Duration `yaml:"title_lookback"`     // Max age of a standalone message reused as title
	DraftTTL         time.Duration `yaml:"draft_ttl"`          // Stale drafts are retired after this
	MaxRecentPrompts int           `yaml:"max_recent_prompts"` // Per-user recent prompt history size
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Version:  "1.0",
		Telegram: &TelegramConfig{},
		Asana:    &AsanaConfig{},
		OpenAI: &OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Pipeline: &PipelineConfig{
			Debounce:         2 * time.Second,
			TitleLookback:    5 * time.Second,
			DraftTTL:         30 * time.Minute,
			MaxRecentPrompts: 5,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".taskbridge", "config.yaml")
}

// Validate checks the configuration for required fields
func (c *Config) Validate() error {
	var problems []string

	if c.Telegram == nil || c.Telegram.BotToken == "" {
		problems = append(problems, "telegram.bot_token is required")
	}
	if c.Asana == nil || c.Asana.AccessToken == "" {
		problems = append(problems, "asana.access_token is required")
	}
	if c.Asana != nil && len(c.Asana.Projects) == 0 {
		problems = append(problems, "asana.projects must list at least one project")
	}
	if c.Asana != nil {
		for i, p := range c.Asana.Projects {
			if p.Name == "" || p.GID == "" {
				problems = append(problems, fmt.Sprintf("asana.projects[%d] needs both name and gid", i))
			}
		}
	}
	if c.OpenAI == nil || c.OpenAI.APIKey == "" {
		problems = append(problems, "openai.api_key is required")
	}
	if c.Pipeline != nil {
		if c.Pipeline.Debounce <= 0 {
			problems = append(problems, "pipeline.debounce must be positive")
		}
		if c.Pipeline.MaxRecentPrompts <= 0 {
			problems = append(problems, "pipeline.max_recent_prompts must be positive")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
