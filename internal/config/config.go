// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/backchat/internal/model"
	"github.com/jeranaias/backchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete backchat configuration.
type Config struct {
	// DefaultModel is the model used for new sessions.
	DefaultModel string `toml:"default_model"`

	Stream    StreamConfig    `toml:"stream"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Provider  ProviderConfig  `toml:"provider"`
	Storage   StorageConfig   `toml:"storage"`
}

// StreamConfig controls the foreground content buffer.
type StreamConfig struct {
	// FlushIntervalMs bounds how often buffered deltas are published to the
	// live UI state. Deltas are never dropped, only coalesced.
	FlushIntervalMs int `toml:"flush_interval_ms"`
}

// DiscoveryConfig controls the secondary discovery pass.
type DiscoveryConfig struct {
	// Mode is "disabled", "standard", or "deep".
	Mode string `toml:"mode"`
	// Model runs the discovery analysis; may differ from the chat model.
	Model string `toml:"model"`
	// SystemPrompt is the discovery instruction; empty uses the built-in.
	SystemPrompt string `toml:"system_prompt"`
	// MaxResults caps items per pass.
	MaxResults int `toml:"max_results"`
	// RetentionItems bounds stored discovery items per session; older items
	// are trimmed on save.
	RetentionItems int `toml:"retention_items"`
}

// ProviderConfig holds transport settings. API keys come from the
// environment (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY), never
// from the config file.
type ProviderConfig struct {
	AnthropicBaseURL string `toml:"anthropic_base_url"`
	OpenAIBaseURL    string `toml:"openai_base_url"`
	GeminiBaseURL    string `toml:"gemini_base_url"`
	// RequestsPerMinute limits outbound dispatches per provider.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// StorageConfig holds persistence paths.
type StorageConfig struct {
	// DBPath is the sqlite database file. Default: ~/.backchat/sessions.db
	DBPath string `toml:"db_path"`
	// LogDir receives diagnostic logs. Empty logs to stderr.
	LogDir string `toml:"log_dir"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DefaultModel: "claude-sonnet-4",
		Stream: StreamConfig{
			FlushIntervalMs: 50,
		},
		Discovery: DiscoveryConfig{
			Mode:           string(model.DiscoveryStandard),
			Model:          "claude-haiku-4",
			MaxResults:     5,
			RetentionItems: 50,
		},
		Provider: ProviderConfig{
			AnthropicBaseURL:  "https://api.anthropic.com",
			OpenAIBaseURL:     "https://api.openai.com",
			GeminiBaseURL:     "https://generativelanguage.googleapis.com",
			RequestsPerMinute: 30,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(home, ".backchat", "sessions.db"),
			LogDir: filepath.Join(home, ".backchat", "logs"),
		},
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".backchat", "config.toml")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from path, falling back to defaults when the file
// does not exist, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies BACKCHAT_* environment variables on top of the
// file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BACKCHAT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := os.Getenv("BACKCHAT_DISCOVERY_MODE"); v != "" {
		cfg.Discovery.Mode = v
	}
	if v := os.Getenv("BACKCHAT_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("BACKCHAT_LOG_DIR"); v != "" {
		cfg.Storage.LogDir = v
	}
	if v := os.Getenv("BACKCHAT_FLUSH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.FlushIntervalMs = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ErrInvalidConfig wraps all validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.DefaultModel == "" {
		return fmt.Errorf("%w: default_model must not be empty", ErrInvalidConfig)
	}
	if c.Stream.FlushIntervalMs <= 0 {
		return fmt.Errorf("%w: stream.flush_interval_ms must be positive", ErrInvalidConfig)
	}
	if !model.DiscoveryMode(c.Discovery.Mode).Valid() {
		return fmt.Errorf("%w: discovery.mode %q is not one of disabled/standard/deep", ErrInvalidConfig, c.Discovery.Mode)
	}
	if c.Discovery.MaxResults < 1 || c.Discovery.MaxResults > 20 {
		return fmt.Errorf("%w: discovery.max_results must be 1-20", ErrInvalidConfig)
	}
	if c.Discovery.RetentionItems < 1 {
		return fmt.Errorf("%w: discovery.retention_items must be positive", ErrInvalidConfig)
	}
	if c.Provider.RequestsPerMinute < 1 {
		return fmt.Errorf("%w: provider.requests_per_minute must be positive", ErrInvalidConfig)
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to path atomically.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0644)
}

// DiscoveryModeValue returns the typed discovery mode.
func (c *Config) DiscoveryModeValue() model.DiscoveryMode {
	return model.DiscoveryMode(c.Discovery.Mode)
}
