// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/isoproxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Provider string `kong:"help='Active provider name (overrides config).',env='PROXY_PROVIDER'"`
	LogMode  string `kong:"help='Logging mode: off|metadata|debug (overrides config).',env='PROXY_LOG_MODE'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig              `toml:"server"`
	Providers map[string]ProviderConfig `toml:"providers"`
	Relay     RelayConfig               `toml:"relay"`
	Log       LogConfig                 `toml:"log"`
	Metrics   MetricsConfig             `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string          `toml:"host"`
	Port      int             `toml:"port"` // 0 means "use default" (9000); TOML cannot distinguish 0 from unset
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProviderConfig describes one allowlisted upstream endpoint.
// The credential itself never appears in the config file; api_key_env names
// the environment variable it is read from at startup.
type ProviderConfig struct {
	Endpoint  string `toml:"endpoint"`
	APIKeyEnv string `toml:"api_key_env"`
}

// RelayConfig holds the active provider selector and resource limits.
type RelayConfig struct {
	Provider         string `toml:"provider"`
	MaxRequestBytes  int64  `toml:"max_request_bytes"`
	MaxResponseBytes int64  `toml:"max_response_bytes"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Mode   string `toml:"mode"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/isoproxy/config.toml then configs/config.toml. When no file exists at
// all, built-in defaults apply so the proxy can run from environment
// variables alone.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Provider != "" {
		c.Relay.Provider = cli.Provider
	}
	if cli.LogMode != "" {
		c.Log.Mode = cli.LogMode
	}
}

func (c *Config) validate() error {
	// Provider table: every entry must be a valid HTTPS endpoint with a
	// named credential source, and the active provider must be present.
	for name, p := range c.Providers {
		if p.Endpoint == "" {
			return fmt.Errorf("providers.%s.endpoint is required", name)
		}
		u, err := url.Parse(p.Endpoint)
		if err != nil {
			return fmt.Errorf("providers.%s.endpoint is not a valid URL: %w", name, err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("providers.%s.endpoint must use HTTPS; got %q", name, p.Endpoint)
		}
		if p.APIKeyEnv == "" {
			return fmt.Errorf("providers.%s.api_key_env is required", name)
		}
	}
	if _, ok := c.Providers[c.Relay.Provider]; !ok {
		names := make([]string, 0, len(c.Providers))
		for name := range c.Providers {
			names = append(names, name)
		}
		return fmt.Errorf("relay.provider %q is not in the provider table %v", c.Relay.Provider, names)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Relay.MaxRequestBytes < 1024 {
		return fmt.Errorf("relay.max_request_bytes must be at least 1024; got %d", c.Relay.MaxRequestBytes)
	}
	if c.Relay.MaxResponseBytes < 1024 {
		return fmt.Errorf("relay.max_response_bytes must be at least 1024; got %d", c.Relay.MaxResponseBytes)
	}
	if c.Relay.TimeoutSeconds < 1 || c.Relay.TimeoutSeconds > 600 {
		return fmt.Errorf("relay.timeout_seconds must be 1–600; got %d", c.Relay.TimeoutSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Mode) {
	case "off", "metadata", "debug":
		// valid
	default:
		return fmt.Errorf("log.mode must be one of: off, metadata, debug; got %q", c.Log.Mode)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/v1/messages", "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish an
// explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9000
	}
	if len(c.Providers) == 0 {
		c.Providers = map[string]ProviderConfig{
			"anthropic": {
				Endpoint:  "https://api.anthropic.com",
				APIKeyEnv: "ANTHROPIC_API_KEY",
			},
		}
	}
	if c.Relay.Provider == "" {
		c.Relay.Provider = "anthropic"
	}
	if c.Relay.MaxRequestBytes == 0 {
		c.Relay.MaxRequestBytes = 5 * 1024 * 1024 // 5 MiB
	}
	if c.Relay.MaxResponseBytes == 0 {
		c.Relay.MaxResponseBytes = 20 * 1024 * 1024 // 20 MiB
	}
	if c.Relay.TimeoutSeconds == 0 {
		c.Relay.TimeoutSeconds = 120
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "metadata"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
