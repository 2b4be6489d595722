// Package config loads gantry configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes either a Go duration string ("30s") or a bare number of
// seconds. yaml.v3 would otherwise treat an integer as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		if parsed, err := time.ParseDuration(s); err == nil {
			*d = Duration(parsed)
			return nil
		}
	}
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration %q", value.Value)
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds client configuration from config.yaml.
type Config struct {
	// BaseURL of the orchestrator API.
	BaseURL string `yaml:"base_url"`
	// APIKey sent as x-api-key. Empty means unauthenticated.
	APIKey string `yaml:"api_key"`
	// AssistantID selects which configured agent new runs execute.
	AssistantID string `yaml:"assistant_id"`
	// ThreadID resumes an existing thread; empty creates a fresh one.
	ThreadID string `yaml:"thread_id"`
	// RequestTimeout bounds unary API calls, not streaming.
	RequestTimeout Duration `yaml:"request_timeout"`
	// LogFile receives structured logs; empty disables logging.
	LogFile string `yaml:"log_file"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:        "http://127.0.0.1:2024",
		AssistantID:    "agent",
		RequestTimeout: Duration(30 * time.Second),
		LogLevel:       "info",
	}
}

// DefaultPath returns the standard config location,
// ~/.config/gantry/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "gantry", "config.yaml")
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist, then applies GANTRY_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url must not be empty")
	}
	if cfg.AssistantID == "" {
		return nil, fmt.Errorf("assistant_id must not be empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = Duration(30 * time.Second)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GANTRY_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("GANTRY_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("GANTRY_ASSISTANT_ID"); v != "" {
		cfg.AssistantID = v
	}
	if v := os.Getenv("GANTRY_THREAD_ID"); v != "" {
		cfg.ThreadID = v
	}
	if v := os.Getenv("GANTRY_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("GANTRY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GANTRY_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = Duration(d)
		} else if secs, err := strconv.Atoi(v); err == nil {
			cfg.RequestTimeout = Duration(time.Duration(secs) * time.Second)
		}
	}
}
