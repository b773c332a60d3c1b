package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config carries every tunable the gateway needs. One instance is built by
// the serve command and handed to the composition root; nothing reads it
// from package state.
type Config struct {
	// Listen is the HTTP/WebSocket bind address.
	Listen string `yaml:"listen"`

	// AuthToken is the shared secret clients present in the auth message
	// and REST bearer header. Empty disables authentication entirely,
	// which is a development-mode bypass and logged as such at startup.
	AuthToken string `yaml:"auth_token"`

	// FilesRoot confines the file-browsing and search providers. Paths
	// outside the root are rejected.
	FilesRoot string `yaml:"files_root"`

	// AssistantLogDir is the directory the session-log watcher tails for
	// coding-assistant JSONL files.
	AssistantLogDir string `yaml:"assistant_log_dir"`

	// ConnectTimeoutSeconds bounds the SSH handshake. The 30 second
	// default is a protocol contract; clients size their spinners to it.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`

	// LogLevel overrides the computed log level when set.
	LogLevel string `yaml:"log_level"`

	// Dev switches on console logging and accept-any-token auth warnings.
	Dev bool `yaml:"dev"`
}

const DefaultConnectTimeout = 30 * time.Second

// Load builds a Config from defaults, an optional YAML file, and PORTSIDE_*
// environment overrides, in that order. A missing file is not an error; an
// unreadable or malformed one is.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to env-only configuration.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}

	return &Config{
		Listen:                ":8080",
		FilesRoot:             home,
		AssistantLogDir:       filepath.Join(home, ".claude", "projects"),
		ConnectTimeoutSeconds: int(DefaultConnectTimeout / time.Second),
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORTSIDE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PORTSIDE_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv("PORTSIDE_FILES_ROOT"); v != "" {
		c.FilesRoot = v
	}
	if v := os.Getenv("PORTSIDE_ASSISTANT_LOG_DIR"); v != "" {
		c.AssistantLogDir = v
	}
	if v := os.Getenv("PORTSIDE_CONNECT_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.ConnectTimeoutSeconds = secs
		}
	}
	if v := os.Getenv("PORTSIDE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PORTSIDE_DEV"); v != "" {
		c.Dev = v == "1" || v == "true"
	}
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("connect_timeout_seconds must be positive, got %d", c.ConnectTimeoutSeconds)
	}
	if c.FilesRoot != "" {
		abs, err := filepath.Abs(c.FilesRoot)
		if err != nil {
			return fmt.Errorf("invalid files_root %q: %w", c.FilesRoot, err)
		}
		c.FilesRoot = abs
	}
	return nil
}

// ConnectTimeout returns the SSH handshake deadline as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// AuthEnabled reports whether a shared secret is configured.
func (c *Config) AuthEnabled() bool {
	return c.AuthToken != ""
}
