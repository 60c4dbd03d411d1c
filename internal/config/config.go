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
	"/etc/docgateway/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	OrchestratorURL string `kong:"name='orchestrator-url',help='Orchestration service base URL (overrides config).',env='ORCHESTRATOR_URL'"`
	LogLevel        string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Upstream     UpstreamConfig     `toml:"upstream"`
	Upload       UploadConfig       `toml:"upload"`
	Snapshot     SnapshotConfig     `toml:"snapshot"`
	Log          LogConfig          `toml:"log"`
	Metrics      MetricsConfig      `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// OrchestratorConfig describes where and how documents are forwarded.
type OrchestratorConfig struct {
	BaseURL          string   `toml:"base_url"`
	SnapshotPath     string   `toml:"snapshot_path"`
	RunPath          string   `toml:"run_path"`
	AllowedHosts     []string `toml:"allowed_hosts"` // empty allows any host
	MaxResponseBytes int64    `toml:"max_response_bytes"`
	MaxRetries       int      `toml:"max_retries"`
	RetryInitialMS   int      `toml:"retry_initial_ms"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// UploadConfig controls how multipart file parts are buffered before forwarding.
type UploadConfig struct {
	MemoryBytes int64  `toml:"memory_bytes"`
	TempDir     string `toml:"temp_dir"`
}

// SnapshotConfig holds snapshot endpoint settings.
type SnapshotConfig struct {
	Cache CacheConfig `toml:"cache"`
}

// CacheConfig controls the in-process snapshot response cache.
type CacheConfig struct {
	Enabled        bool     `toml:"enabled"`
	TTLSeconds     int      `toml:"ttl_seconds"`
	CleanupSeconds int      `toml:"cleanup_seconds"`
	IgnoreHeaders  []string `toml:"ignore_headers"` // forwarded headers left out of the cache key
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
// /etc/docgateway/config.toml then configs/config.toml.
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
	if cli.OrchestratorURL != "" {
		c.Orchestrator.BaseURL = cli.OrchestratorURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Orchestrator URL: required, http(s), and in the allowlist when one is set.
	if c.Orchestrator.BaseURL == "" {
		return fmt.Errorf("orchestrator.base_url is required")
	}
	u, err := url.Parse(c.Orchestrator.BaseURL)
	if err != nil {
		return fmt.Errorf("orchestrator.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("orchestrator.base_url must use http or https; got %q", c.Orchestrator.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("orchestrator.base_url has no host; got %q", c.Orchestrator.BaseURL)
	}
	if !c.Orchestrator.HostAllowed(u.Hostname()) {
		return fmt.Errorf("orchestrator host %q is not in orchestrator.allowed_hosts", u.Hostname())
	}
	for name, p := range map[string]string{
		"orchestrator.snapshot_path": c.Orchestrator.SnapshotPath,
		"orchestrator.run_path":      c.Orchestrator.RunPath,
	} {
		if p != "" && p[0] != '/' {
			return fmt.Errorf("%s must start with '/'; got %q", name, p)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Orchestrator.MaxResponseBytes < 0 {
		return fmt.Errorf("orchestrator.max_response_bytes must be non-negative; got %d", c.Orchestrator.MaxResponseBytes)
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must be non-negative; got %d", c.Orchestrator.MaxRetries)
	}
	if c.Orchestrator.RetryInitialMS < 0 {
		return fmt.Errorf("orchestrator.retry_initial_ms must be non-negative; got %d", c.Orchestrator.RetryInitialMS)
	}
	if c.Upload.MemoryBytes < 0 {
		return fmt.Errorf("upload.memory_bytes must be non-negative; got %d", c.Upload.MemoryBytes)
	}
	if c.Snapshot.Cache.TTLSeconds < 0 || c.Snapshot.Cache.CleanupSeconds < 0 {
		return fmt.Errorf("snapshot.cache ttl_seconds and cleanup_seconds must be non-negative")
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
		for _, reserved := range []string{"/api", "/healthz", "/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000). The exception is
// orchestrator.max_retries, where zero (no retries) is the default anyway.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 64 * 1024 * 1024 // 64 MB
	}
	if c.Orchestrator.SnapshotPath == "" {
		c.Orchestrator.SnapshotPath = "/snapshot"
	}
	if c.Orchestrator.RunPath == "" {
		c.Orchestrator.RunPath = "/run"
	}
	if c.Orchestrator.MaxResponseBytes == 0 {
		c.Orchestrator.MaxResponseBytes = 64 * 1024 * 1024
	}
	if c.Orchestrator.RetryInitialMS == 0 {
		c.Orchestrator.RetryInitialMS = 100
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upload.MemoryBytes == 0 {
		c.Upload.MemoryBytes = 8 * 1024 * 1024 // 8 MB
	}
	if c.Snapshot.Cache.TTLSeconds == 0 {
		c.Snapshot.Cache.TTLSeconds = 60
	}
	if c.Snapshot.Cache.CleanupSeconds == 0 {
		c.Snapshot.Cache.CleanupSeconds = 300
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

// HostAllowed reports whether host may be used as the orchestration upstream.
// An empty allowlist admits every host.
func (c *OrchestratorConfig) HostAllowed(host string) bool {
	if len(c.AllowedHosts) == 0 {
		return true
	}
	for _, h := range c.AllowedHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
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
