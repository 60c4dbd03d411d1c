package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
[orchestrator]
base_url = "https://orchestrator.internal"
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[orchestrator]
base_url = "https://orchestrator.internal"
snapshot_path = "/v1/snapshot"
run_path = "/v1/run"
max_retries = 3

[upstream]
timeout_seconds = 60
idle_connections = 50

[upload]
memory_bytes = 1024
temp_dir = "/var/tmp"

[snapshot.cache]
enabled = true
ttl_seconds = 30
ignore_headers = ["X-Request-Id"]

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Orchestrator.SnapshotPath != "/v1/snapshot" {
		t.Errorf("Orchestrator.SnapshotPath = %q, want %q", cfg.Orchestrator.SnapshotPath, "/v1/snapshot")
	}
	if cfg.Orchestrator.RunPath != "/v1/run" {
		t.Errorf("Orchestrator.RunPath = %q, want %q", cfg.Orchestrator.RunPath, "/v1/run")
	}
	if cfg.Orchestrator.MaxRetries != 3 {
		t.Errorf("Orchestrator.MaxRetries = %d, want 3", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Upload.MemoryBytes != 1024 {
		t.Errorf("Upload.MemoryBytes = %d, want 1024", cfg.Upload.MemoryBytes)
	}
	if cfg.Upload.TempDir != "/var/tmp" {
		t.Errorf("Upload.TempDir = %q, want %q", cfg.Upload.TempDir, "/var/tmp")
	}
	if !cfg.Snapshot.Cache.Enabled || cfg.Snapshot.Cache.TTLSeconds != 30 {
		t.Errorf("Snapshot.Cache = %+v, want enabled with ttl 30", cfg.Snapshot.Cache)
	}
	if len(cfg.Snapshot.Cache.IgnoreHeaders) != 1 || cfg.Snapshot.Cache.IgnoreHeaders[0] != "X-Request-Id" {
		t.Errorf("Snapshot.Cache.IgnoreHeaders = %v, want [X-Request-Id]", cfg.Snapshot.Cache.IgnoreHeaders)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_MissingOrchestratorURL(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 8080
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for missing orchestrator.base_url, got nil")
	}
	if !strings.Contains(err.Error(), "orchestrator.base_url") {
		t.Errorf("error = %q, want mention of orchestrator.base_url", err)
	}
}

func TestLoad_OrchestratorURLScheme(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https accepted", "https://orchestrator.internal", false},
		{"http accepted", "http://orchestrator.internal:8080", false},
		{"ftp rejected", "ftp://orchestrator.internal", true},
		{"no host rejected", "https://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "[orchestrator]\nbase_url = \""+tt.url+"\"\n")
			_, err := Load(cliWithPath(path))
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_AllowedHosts(t *testing.T) {
	path := writeConfig(t, `
[orchestrator]
base_url = "https://evil.example"
allowed_hosts = ["orchestrator.internal"]
`)
	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for host outside allowlist, got nil")
	}

	path = writeConfig(t, `
[orchestrator]
base_url = "https://Orchestrator.Internal"
allowed_hosts = ["orchestrator.internal"]
`)
	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; allowlist match should be case-insensitive", err)
	}
}

func TestLoad_RelativeOrchestratorPath(t *testing.T) {
	path := writeConfig(t, `
[orchestrator]
base_url = "https://orchestrator.internal"
run_path = "run"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for run_path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "orchestrator.run_path") {
		t.Errorf("error = %q, want mention of orchestrator.run_path", err)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 64*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 64*1024*1024)
	}
	if cfg.Orchestrator.SnapshotPath != "/snapshot" {
		t.Errorf("default Orchestrator.SnapshotPath = %q, want %q", cfg.Orchestrator.SnapshotPath, "/snapshot")
	}
	if cfg.Orchestrator.RunPath != "/run" {
		t.Errorf("default Orchestrator.RunPath = %q, want %q", cfg.Orchestrator.RunPath, "/run")
	}
	if cfg.Orchestrator.MaxRetries != 0 {
		t.Errorf("default Orchestrator.MaxRetries = %d, want 0", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Upload.MemoryBytes != 8*1024*1024 {
		t.Errorf("default Upload.MemoryBytes = %d, want %d", cfg.Upload.MemoryBytes, 8*1024*1024)
	}
	if cfg.Snapshot.Cache.Enabled {
		t.Error("expected Snapshot.Cache.Enabled = false by default")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[orchestrator]
base_url = "https://toml.internal"

[log]
level = "info"
`)

	cli := &CLI{
		Config:          path,
		Host:            "127.0.0.1",
		Port:            3000,
		OrchestratorURL: "http://cli.internal:9090",
		LogLevel:        "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Orchestrator.BaseURL != "http://cli.internal:9090" {
		t.Errorf("Orchestrator.BaseURL = %q, want %q (CLI override)", cfg.Orchestrator.BaseURL, "http://cli.internal:9090")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_NegativeValues(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"port", "[server]\nport = -1\n"},
		{"body_max_bytes", "[server]\nbody_max_bytes = -1\n"},
		{"timeout_seconds", "[upstream]\ntimeout_seconds = -5\n"},
		{"idle_connections", "[upstream]\nidle_connections = -1\n"},
		{"max_retries", "[orchestrator]\nbase_url = \"https://o.internal\"\nmax_retries = -1\n"},
		{"memory_bytes", "[upload]\nmemory_bytes = -1\n"},
		{"ttl_seconds", "[snapshot.cache]\nttl_seconds = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data
			if !strings.Contains(data, "[orchestrator]") {
				data = minimalConfig + data
			}
			_, err := Load(cliWithPath(writeConfig(t, data)))
			if err == nil {
				t.Fatalf("Load() expected error for negative %s, got nil", tt.name)
			}
		})
	}
}

func TestLoad_RateLimitConfig(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, minimalConfig+`
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}

	_, err = Load(cliWithPath(writeConfig(t, minimalConfig+`
[server.rate_limit]
enabled = true
requests_per_second = 0
`)))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	path1 := writeConfig(t, minimalConfig)
	path2 := writeConfig(t, minimalConfig)

	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path2}); got != path2 {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path2)
	}
	if got := findConfigInPaths([]string{path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, minimalConfig+"\n[metrics]\nenabled = true\n")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	_, err = Load(cliWithPath(writeConfig(t, minimalConfig+"\n[metrics]\nenabled = true\npath = \"metrics\"\n")))
	if err == nil || !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("Load() error = %v, want mention of metrics.path", err)
	}

	_, err = Load(cliWithPath(writeConfig(t, minimalConfig+"\n[metrics]\nenabled = false\npath = \"bad-no-slash\"\n")))
	if err != nil {
		t.Errorf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestLoad_MetricsPathConflictsWithRoutes(t *testing.T) {
	for _, p := range []string{"/api", "/api/upload", "/healthz", "/status"} {
		t.Run(p, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, minimalConfig+"\n[metrics]\nenabled = true\npath = \""+p+"\"\n")))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", p)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
