package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "jellyroute.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Host, "JELLYROUTE_HOST")
	setString(&cfg.Server.Port, "JELLYROUTE_PORT")
	setString(&cfg.Server.CORSOrigin, "JELLYROUTE_CORS_ORIGIN")
	if v := os.Getenv("JELLYROUTE_API_KEYS"); v != "" {
		cfg.Server.APIKeys = splitList(v)
	}

	setString(&cfg.Agent.Name, "JELLYROUTE_AGENT_NAME")
	setString(&cfg.Agent.PublicURL, "JELLYROUTE_PUBLIC_URL")

	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "JELLYROUTE_MODEL")
	setFloat64(&cfg.LiteLLM.Temperature, "JELLYROUTE_TEMPERATURE")
	setFloat64(&cfg.LiteLLM.TopP, "JELLYROUTE_TOP_P")
	setInt(&cfg.LiteLLM.MaxTokens, "JELLYROUTE_MAX_TOKENS")

	// MCP
	setString(&cfg.MCP.URL, "MCP_URL")
	setString(&cfg.MCP.Transport, "JELLYROUTE_MCP_TRANSPORT")
	setString(&cfg.MCP.Command, "JELLYROUTE_MCP_COMMAND")
	setString(&cfg.MCP.Token, "JELLYROUTE_MCP_TOKEN")
	setBool(&cfg.MCP.VerifyTools, "JELLYROUTE_MCP_VERIFY_TOOLS")
	setString(&cfg.MCP.MinServerVersion, "JELLYROUTE_MCP_MIN_SERVER_VERSION")
	setDuration(&cfg.MCP.ConnectTimeout, "JELLYROUTE_MCP_CONNECT_TIMEOUT")

	setString(&cfg.Registry.SeedPath, "JELLYROUTE_REGISTRY_SEED")

	// Routing and execution limits
	setFloat64(&cfg.Routing.ConfidenceThreshold, "JELLYROUTE_CONFIDENCE_THRESHOLD")
	setInt(&cfg.Routing.MaxReroutes, "JELLYROUTE_MAX_REROUTES")
	setInt(&cfg.Executor.MaxIterations, "JELLYROUTE_MAX_ITERATIONS")
	setInt(&cfg.Executor.MaxCorrections, "JELLYROUTE_MAX_CORRECTIONS")
	setDuration(&cfg.Executor.CallTimeout, "JELLYROUTE_CALL_TIMEOUT")
	setDuration(&cfg.Executor.CompletionTimeout, "JELLYROUTE_COMPLETION_TIMEOUT")
	setBool(&cfg.Executor.RetryMutatingOnNetworkError, "JELLYROUTE_RETRY_MUTATING")
	setDuration(&cfg.Task.Timeout, "JELLYROUTE_TASK_TIMEOUT")
	setInt(&cfg.Task.MaxConcurrent, "JELLYROUTE_TASK_MAX_CONCURRENT")

	// Optional backends
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "JELLYROUTE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "JELLYROUTE_PG_MIN_CONNS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "JELLYROUTE_NATS_STREAM")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "JELLYROUTE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2, "JELLYROUTE_CACHE_L2")
	setString(&cfg.Cache.L2Bucket, "JELLYROUTE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "JELLYROUTE_CACHE_L2_TTL")
	setString(&cfg.Cache.RedisURL, "REDIS_URL")
	setDuration(&cfg.Cache.ResponseTTL, "JELLYROUTE_CACHE_RESPONSE_TTL")
	setDuration(&cfg.Idempotency.TTL, "JELLYROUTE_IDEMPOTENCY_TTL")

	setString(&cfg.Logging.Level, "JELLYROUTE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "JELLYROUTE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "JELLYROUTE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "JELLYROUTE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "JELLYROUTE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "JELLYROUTE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "JELLYROUTE_RATE_BURST")
	setDuration(&cfg.Rate.MaxIdleTime, "JELLYROUTE_RATE_MAX_IDLE_TIME")

	// Telemetry
	setBool(&cfg.OTEL.Enabled, "JELLYROUTE_OTEL_ENABLED")
	setString(&cfg.OTEL.Exporter, "JELLYROUTE_OTEL_EXPORTER")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "JELLYROUTE_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "JELLYROUTE_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set and limits are coherent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.LiteLLM.URL == "" {
		return errors.New("litellm.url is required")
	}
	if cfg.LiteLLM.Model == "" {
		return errors.New("litellm.model is required")
	}
	if cfg.MCP.URL == "" && cfg.MCP.Command == "" {
		return errors.New("mcp.url or mcp.command is required")
	}
	switch cfg.MCP.Transport {
	case "", "sse", "http", "stdio":
	default:
		return fmt.Errorf("mcp.transport %q must be sse, http or stdio", cfg.MCP.Transport)
	}
	if cfg.MCP.Transport == "stdio" && cfg.MCP.Command == "" {
		return errors.New("mcp.command is required for the stdio transport")
	}
	if cfg.Routing.ConfidenceThreshold < 0 || cfg.Routing.ConfidenceThreshold > 1 {
		return errors.New("routing.confidence_threshold must be within [0, 1]")
	}
	if cfg.Routing.MaxReroutes < 0 {
		return errors.New("routing.max_reroutes must be >= 0")
	}
	if cfg.Executor.MaxIterations < 1 {
		return errors.New("executor.max_iterations must be >= 1")
	}
	if cfg.Executor.MaxCorrections < 0 {
		return errors.New("executor.max_corrections must be >= 0")
	}
	if cfg.Executor.CallTimeout <= 0 || cfg.Executor.CompletionTimeout <= 0 {
		return errors.New("executor timeouts must be positive")
	}
	if cfg.Executor.CallTimeout >= cfg.Task.Timeout {
		return errors.New("executor.call_timeout must be smaller than task.timeout")
	}
	if cfg.Executor.CompletionTimeout >= cfg.Task.Timeout {
		return errors.New("executor.completion_timeout must be smaller than task.timeout")
	}
	if cfg.Task.MaxConcurrent < 1 {
		return errors.New("task.max_concurrent must be >= 1")
	}
	switch cfg.Cache.L2 {
	case "", "nats", "redis":
	default:
		return fmt.Errorf("cache.l2 %q must be nats or redis", cfg.Cache.L2)
	}
	if cfg.Cache.L2 == "nats" && cfg.NATS.URL == "" {
		return errors.New("cache.l2 nats requires nats.url")
	}
	if cfg.Cache.L2 == "redis" && cfg.Cache.RedisURL == "" {
		return errors.New("cache.l2 redis requires cache.redis_url")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.OTEL.Enabled && cfg.OTEL.Exporter != "otlp" && cfg.OTEL.Exporter != "stdout" {
		return fmt.Errorf("otel.exporter %q must be otlp or stdout", cfg.OTEL.Exporter)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// splitList splits a comma-separated env value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
