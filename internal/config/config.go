package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/codewiresh/trakit/internal/auth"
)

// Environments and their default addresses.
const (
	EnvProd = "prod"
	EnvBeta = "beta"

	AddressProd = "wss://socket.trakit.ca/"
	AddressBeta = "wss://kraken.trakit.ca/"
)

// Config is the top-level configuration loaded from config.toml.
type Config struct {
	// Environment selects the default address: "prod" (default) or "beta".
	Environment string `toml:"environment"`
	// Address overrides the environment's address.
	Address *string `toml:"address,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	Auth    AuthConfig    `toml:"auth"`
	Metrics MetricsConfig `toml:"metrics"`
	Journal JournalConfig `toml:"journal"`
}

// AuthConfig holds the credentials used when no saved session exists.
// An API key takes precedence over a username.
type AuthConfig struct {
	Username  string `toml:"username,omitempty"`
	Password  string `toml:"password,omitempty"`
	APIKey    string `toml:"api_key,omitempty"`
	APISecret string `toml:"api_secret,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen address for /metrics (e.g. "127.0.0.1:9464"). Nil means off.
	Listen *string `toml:"listen,omitempty"`
}

// JournalConfig controls frame recording.
type JournalConfig struct {
	Enabled bool `toml:"enabled"`
	// Retention is a Go duration ("72h"); empty keeps records forever.
	Retention string `toml:"retention,omitempty"`
}

// DefaultDataDir returns TRAKIT_DIR or ~/.trakit.
func DefaultDataDir() string {
	if dir := os.Getenv("TRAKIT_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trakit"
	}
	return filepath.Join(home, ".trakit")
}

// ReadFile reads config.toml from dataDir without environment overrides.
// A missing file yields the defaults.
func ReadFile(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, "config.toml")

	cfg := &Config{
		Environment: EnvProd,
		LogLevel:    "info",
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return cfg, nil
}

// LoadConfig reads config.toml from dataDir, applies environment variable
// overrides, and validates the result.
func LoadConfig(dataDir string) (*Config, error) {
	cfg, err := ReadFile(dataDir)
	if err != nil {
		return nil, err
	}

	if env := os.Getenv("TRAKIT_ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	if addr := os.Getenv("TRAKIT_ADDRESS"); addr != "" {
		cfg.Address = &addr
	}
	if lvl := os.Getenv("TRAKIT_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if v := os.Getenv("TRAKIT_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("TRAKIT_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv("TRAKIT_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("TRAKIT_API_SECRET"); v != "" {
		cfg.Auth.APISecret = v
	}
	if listen := os.Getenv("TRAKIT_METRICS_LISTEN"); listen != "" {
		cfg.Metrics.Listen = &listen
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the environment, address, log level and retention.
func (c *Config) Validate() error {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = EnvProd
	}
	if c.Environment != EnvProd && c.Environment != EnvBeta {
		return fmt.Errorf("environment must be %q or %q, got: %q", EnvProd, EnvBeta, c.Environment)
	}
	if c.Address != nil {
		u, err := url.Parse(*c.Address)
		if err != nil {
			return fmt.Errorf("parsing address: %w", err)
		}
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			return fmt.Errorf("address must use ws, wss, http or https, got: %q", *c.Address)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Retention(); err != nil {
		return err
	}
	return nil
}

// ResolvedAddress returns Address if set, otherwise the environment's
// default.
func (c *Config) ResolvedAddress() string {
	if c.Address != nil && *c.Address != "" {
		return *c.Address
	}
	if c.Environment == EnvBeta {
		return AddressBeta
	}
	return AddressProd
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// Retention parses Journal.Retention. Zero means keep forever.
func (c *Config) Retention() (time.Duration, error) {
	if c.Journal.Retention == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Journal.Retention)
	if err != nil {
		return 0, fmt.Errorf("journal.retention: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("journal.retention must not be negative, got: %s", d)
	}
	return d, nil
}

// Credential returns the configured credential: an API key if one is set,
// then a username and password. ok is false when neither is configured.
func (c *Config) Credential() (cred auth.Credential, ok bool) {
	switch {
	case c.Auth.APIKey != "":
		return auth.APIKey{Key: c.Auth.APIKey, Secret: c.Auth.APISecret}, true
	case c.Auth.Username != "":
		return auth.Password{Username: c.Auth.Username, Password: c.Auth.Password}, true
	}
	return nil, false
}

// Save writes c to config.toml inside dataDir, creating the directory if
// necessary. The file holds credentials and is written 0600.
func (c *Config) Save(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	path := filepath.Join(dataDir, "config.toml")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encoding config.toml: %w", err)
	}
	return nil
}
