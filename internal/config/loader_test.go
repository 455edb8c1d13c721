package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "9001" {
		t.Errorf("expected port 9001, got %s", cfg.Server.Port)
	}
	if cfg.Routing.ConfidenceThreshold != 0.6 {
		t.Errorf("expected threshold 0.6, got %v", cfg.Routing.ConfidenceThreshold)
	}
	if cfg.Routing.MaxReroutes != 2 {
		t.Errorf("expected max_reroutes 2, got %d", cfg.Routing.MaxReroutes)
	}
	if cfg.Executor.MaxIterations != 8 || cfg.Executor.MaxCorrections != 2 {
		t.Errorf("unexpected executor limits %+v", cfg.Executor)
	}
	if cfg.Task.Timeout != 5*time.Minute {
		t.Errorf("expected task timeout 5m, got %v", cfg.Task.Timeout)
	}
	if cfg.LiteLLM.Model != "gpt-4o" || cfg.LiteLLM.MaxTokens != 8192 {
		t.Errorf("unexpected model settings %+v", cfg.LiteLLM)
	}
	if cfg.Postgres.DSN != "" || cfg.NATS.URL != "" {
		t.Error("optional backends should be disabled by default")
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
mcp:
  url: "http://jellyfin-mcp:8000/sse"
  headers:
    X-Client: "router"
routing:
  confidence_threshold: 0.75
executor:
  call_timeout: 10s
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.MCP.URL != "http://jellyfin-mcp:8000/sse" {
		t.Errorf("unexpected mcp url %s", cfg.MCP.URL)
	}
	if cfg.MCP.Headers["X-Client"] != "router" {
		t.Errorf("expected header from yaml, got %v", cfg.MCP.Headers)
	}
	if cfg.Routing.ConfidenceThreshold != 0.75 {
		t.Errorf("expected threshold 0.75, got %v", cfg.Routing.ConfidenceThreshold)
	}
	if cfg.Executor.CallTimeout != 10*time.Second {
		t.Errorf("expected call timeout 10s, got %v", cfg.Executor.CallTimeout)
	}
	// Unchanged fields keep defaults
	if cfg.Executor.MaxIterations != 8 {
		t.Errorf("expected default max_iterations, got %d", cfg.Executor.MaxIterations)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLMalformed(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("JELLYROUTE_PORT", "7070")
	t.Setenv("MCP_URL", "http://mcp:9000/mcp")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("JELLYROUTE_MAX_ITERATIONS", "4")
	t.Setenv("JELLYROUTE_CALL_TIMEOUT", "5s")
	t.Setenv("JELLYROUTE_RETRY_MUTATING", "true")
	t.Setenv("JELLYROUTE_CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("JELLYROUTE_API_KEYS", " key-a, ,key-b ")

	loadEnv(&cfg)

	if len(cfg.Server.APIKeys) != 2 || cfg.Server.APIKeys[0] != "key-a" || cfg.Server.APIKeys[1] != "key-b" {
		t.Errorf("unexpected api keys %q", cfg.Server.APIKeys)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.MCP.URL != "http://mcp:9000/mcp" {
		t.Errorf("unexpected mcp url %s", cfg.MCP.URL)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Executor.MaxIterations != 4 {
		t.Errorf("expected max_iterations 4, got %d", cfg.Executor.MaxIterations)
	}
	if cfg.Executor.CallTimeout != 5*time.Second {
		t.Errorf("expected call timeout 5s, got %v", cfg.Executor.CallTimeout)
	}
	if !cfg.Executor.RetryMutatingOnNetworkError {
		t.Error("expected retry_mutating_on_network_error from env")
	}
	if cfg.Routing.ConfidenceThreshold != 0.8 {
		t.Errorf("expected threshold 0.8, got %v", cfg.Routing.ConfidenceThreshold)
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("JELLYROUTE_MAX_ITERATIONS", "many")
	t.Setenv("JELLYROUTE_CALL_TIMEOUT", "soon")

	loadEnv(&cfg)

	if cfg.Executor.MaxIterations != 8 {
		t.Errorf("invalid int should be ignored, got %d", cfg.Executor.MaxIterations)
	}
	if cfg.Executor.CallTimeout != 30*time.Second {
		t.Errorf("invalid duration should be ignored, got %v", cfg.Executor.CallTimeout)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "no mcp endpoint",
			modify: func(c *Config) { c.MCP.URL = ""; c.MCP.Command = "" },
			errMsg: "mcp.url or mcp.command is required",
		},
		{
			name:   "stdio without command",
			modify: func(c *Config) { c.MCP.Transport = "stdio" },
			errMsg: "mcp.command is required for the stdio transport",
		},
		{
			name:   "threshold above one",
			modify: func(c *Config) { c.Routing.ConfidenceThreshold = 1.5 },
			errMsg: "routing.confidence_threshold must be within [0, 1]",
		},
		{
			name:   "zero iterations",
			modify: func(c *Config) { c.Executor.MaxIterations = 0 },
			errMsg: "executor.max_iterations must be >= 1",
		},
		{
			name:   "call timeout not below task timeout",
			modify: func(c *Config) { c.Executor.CallTimeout = 10 * time.Minute },
			errMsg: "executor.call_timeout must be smaller than task.timeout",
		},
		{
			name:   "completion timeout not below task timeout",
			modify: func(c *Config) { c.Task.Timeout = 45 * time.Second },
			errMsg: "executor.completion_timeout must be smaller than task.timeout",
		},
		{
			name:   "redis l2 without url",
			modify: func(c *Config) { c.Cache.L2 = "redis" },
			errMsg: "cache.l2 redis requires cache.redis_url",
		},
		{
			name:   "nats l2 without url",
			modify: func(c *Config) { c.Cache.L2 = "nats" },
			errMsg: "cache.l2 nats requires nats.url",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero rate burst",
			modify: func(c *Config) { c.Rate.Burst = 0 },
			errMsg: "rate.burst must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateUnknownTransport(t *testing.T) {
	cfg := Defaults()
	cfg.MCP.Transport = "carrier-pigeon"
	err := validate(&cfg)
	if err == nil || !strings.Contains(err.Error(), "mcp.transport") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug", "--mcp-url", "http://m/sse"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	if flags.MCPURL == nil || *flags.MCPURL != "http://m/sse" {
		t.Errorf("expected mcp-url, got %v", flags.MCPURL)
	}
	// Unset flags remain nil
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	if _, err := ParseFlags([]string{"--unknown-flag"}); err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestApplyCLINilFlags(t *testing.T) {
	cfg := Defaults()
	original := cfg

	applyCLI(&cfg, CLIFlags{})

	if cfg.Server.Port != original.Server.Port {
		t.Errorf("port changed from %s to %s", original.Server.Port, cfg.Server.Port)
	}
	if cfg.LiteLLM.Model != original.LiteLLM.Model {
		t.Errorf("model changed from %s to %s", original.LiteLLM.Model, cfg.LiteLLM.Model)
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("JELLYROUTE_PORT", "7070")
	t.Setenv("JELLYROUTE_MODEL", "gpt-4o-mini")

	flags, err := ParseFlags([]string{"--port", "3333", "--model-id", "llama3", "-c", filepath.Join(t.TempDir(), "none.yaml")})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.LiteLLM.Model != "llama3" {
		t.Errorf("expected CLI model to override ENV, got %s", cfg.LiteLLM.Model)
	}
}

func TestLoadWithCLICustomConfig(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "custom.yaml")
	content := `
server:
  port: "5555"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	flags, err := ParseFlags([]string{"--config", yamlPath})
	if err != nil {
		t.Fatal(err)
	}

	cfg, resolvedPath, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if resolvedPath != yamlPath {
		t.Errorf("expected resolved path %s, got %s", yamlPath, resolvedPath)
	}
	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from custom YAML, got %s", cfg.Server.Port)
	}
}
