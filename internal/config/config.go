// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/agent-relay/config.toml",
	"configs/config.toml",
}

// reservedRoutes are paths owned by the relay itself; the metrics endpoint may not shadow them.
var reservedRoutes = []string{"/api/agent", "/healthz", "/relay/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	AgentURL    string `kong:"name='agent-url',help='Agent service base URL (overrides config).',env='AGENT_URL'"`
	AgentAPIKey string `kong:"name='agent-api-key',help='Bearer token sent to the agent service (overrides config).',env='AGENT_API_KEY'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Agent    AgentConfig    `toml:"agent"`
	Upstream UpstreamConfig `toml:"upstream"`
	Relay    RelayConfig    `toml:"relay"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`

	// MaxDurationSeconds caps the whole exchange, streaming included.
	MaxDurationSeconds int             `toml:"max_duration_seconds"`
	RateLimit          RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// AgentConfig locates the upstream agent service.
type AgentConfig struct {
	BaseURL string `toml:"base_url"`
	Path    string `toml:"path"`
	APIKey  string `toml:"api_key"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	// TimeoutSeconds bounds connect + response headers only; the body is
	// streamed for as long as server.max_duration_seconds allows.
	TimeoutSeconds    int   `toml:"timeout_seconds"`
	IdleConnections   int   `toml:"idle_connections"`
	ErrorBodyMaxBytes int64 `toml:"error_body_max_bytes"`
}

// RelayConfig tunes the frame relay.
type RelayConfig struct {
	ReadBufferBytes int `toml:"read_buffer_bytes"`

	// MaxFrameBytes bounds the retained partial frame. Negative disables the cap.
	MaxFrameBytes int `toml:"max_frame_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/agent-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
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
	if cli.AgentURL != "" {
		c.Agent.BaseURL = cli.AgentURL
	}
	if cli.AgentAPIKey != "" {
		c.Agent.APIKey = cli.AgentAPIKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Agent.APIKey == "YOUR_API_KEY_HERE" {
		return fmt.Errorf("agent.api_key contains placeholder value; set a real key or leave it empty")
	}

	// Agent URL: required, http or https, no query or fragment.
	if c.Agent.BaseURL == "" {
		return fmt.Errorf("agent.base_url is required")
	}
	u, err := url.Parse(c.Agent.BaseURL)
	if err != nil {
		return fmt.Errorf("agent.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("agent.base_url must use http or https; got %q", c.Agent.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("agent.base_url has no host; got %q", c.Agent.BaseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("agent.base_url must not carry a query or fragment; got %q", c.Agent.BaseURL)
	}
	if c.Agent.Path != "" && c.Agent.Path[0] != '/' {
		return fmt.Errorf("agent.path must start with '/'; got %q", c.Agent.Path)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.MaxDurationSeconds < 0 {
		return fmt.Errorf("server.max_duration_seconds must be non-negative; got %d", c.Server.MaxDurationSeconds)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.ErrorBodyMaxBytes < 0 {
		return fmt.Errorf("upstream.error_body_max_bytes must be non-negative; got %d", c.Upstream.ErrorBodyMaxBytes)
	}
	if c.Relay.ReadBufferBytes < 0 {
		return fmt.Errorf("relay.read_buffer_bytes must be non-negative; got %d", c.Relay.ReadBufferBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
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
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 * 1024 * 1024 // 1 MB
	}
	if c.Server.MaxDurationSeconds == 0 {
		c.Server.MaxDurationSeconds = 300
	}
	if c.Agent.Path == "" {
		c.Agent.Path = "/agent"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.ErrorBodyMaxBytes == 0 {
		c.Upstream.ErrorBodyMaxBytes = 64 * 1024
	}
	if c.Relay.ReadBufferBytes == 0 {
		c.Relay.ReadBufferBytes = 32 * 1024
	}
	if c.Relay.MaxFrameBytes == 0 {
		c.Relay.MaxFrameBytes = 4 * 1024 * 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
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

// MaxDuration returns the wall-clock ceiling for one exchange.
func (c *ServerConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSeconds) * time.Second
}

// Endpoint returns the full agent URL the relay posts to.
func (c *AgentConfig) Endpoint() string {
	path := c.Path
	if path == "" {
		path = "/agent"
	}
	return strings.TrimRight(c.BaseURL, "/") + path
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
