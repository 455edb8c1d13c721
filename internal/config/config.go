// Package config provides hierarchical configuration loading for JellyRoute.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the router.
type Config struct {
	Server      Server      `yaml:"server"`
	Agent       Agent       `yaml:"agent"`
	LiteLLM     LiteLLM     `yaml:"litellm"`
	MCP         MCP         `yaml:"mcp"`
	Registry    Registry    `yaml:"registry"`
	Routing     Routing     `yaml:"routing"`
	Executor    Executor    `yaml:"executor"`
	Task        Task        `yaml:"task"`
	Postgres    Postgres    `yaml:"postgres"`
	NATS        NATS        `yaml:"nats"`
	Cache       Cache       `yaml:"cache"`
	Idempotency Idempotency `yaml:"idempotency"`
	Logging     Logging     `yaml:"logging"`
	Breaker     Breaker     `yaml:"breaker"`
	Rate        Rate        `yaml:"rate"`
	OTEL        OTEL        `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host       string   `yaml:"host"`
	Port       string   `yaml:"port"`
	CORSOrigin string   `yaml:"cors_origin"`
	APIKeys    []string `yaml:"api_keys"` // empty leaves the API open
}

// Agent is the identity advertised to A2A clients.
type Agent struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	PublicURL   string `yaml:"public_url"` // base URL in the agent card; empty derives it from the request
}

// LiteLLM holds LiteLLM proxy and model settings.
type LiteLLM struct {
	URL         string  `yaml:"url"`
	MasterKey   string  `yaml:"master_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// MCP holds the Tool Execution Layer connection. Transport is "sse",
// "http" or "stdio"; empty picks SSE when the URL mentions sse and
// streamable HTTP otherwise.
type MCP struct {
	URL              string            `yaml:"url"`
	Transport        string            `yaml:"transport"`
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	Env              []string          `yaml:"env"`
	Headers          map[string]string `yaml:"headers"`
	Token            string            `yaml:"token"` // sent as X-Emby-Token
	VerifyTools      bool              `yaml:"verify_tools"`
	MinServerVersion string            `yaml:"min_server_version"` // semver constraint, e.g. ">= 1.2"
	ConnectTimeout   time.Duration     `yaml:"connect_timeout"`
}

// Registry points at the capability seed. Empty uses the embedded Jellyfin seed.
type Registry struct {
	SeedPath string `yaml:"seed_path"`
}

// Routing holds Supervisor classification settings.
type Routing struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MaxReroutes         int     `yaml:"max_reroutes"`
}

// Executor holds Domain Executor loop limits and call timeouts.
type Executor struct {
	MaxIterations               int           `yaml:"max_iterations"`
	MaxCorrections              int           `yaml:"max_corrections"`
	CallTimeout                 time.Duration `yaml:"call_timeout"`
	CompletionTimeout           time.Duration `yaml:"completion_timeout"`
	RetryMutatingOnNetworkError bool          `yaml:"retry_mutating_on_network_error"`
}

// Task holds per-task limits.
type Task struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// Postgres holds the optional archive database. An empty DSN disables it.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds the optional event bus. An empty URL disables it.
type NATS struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// Cache holds the response cache used by the archive fallback and the
// idempotency middleware. L2 is "", "nats" or "redis".
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2          string        `yaml:"l2"`
	L2Bucket    string        `yaml:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
	RedisURL    string        `yaml:"redis_url"`
	ResponseTTL time.Duration `yaml:"response_ttl"`
}

// Idempotency holds replay protection for POST /api/v1/tasks.
type Idempotency struct {
	TTL time.Duration `yaml:"ttl"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds per-client rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// OTEL holds OpenTelemetry configuration. Exporter is "otlp" or "stdout".
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Host:       "0.0.0.0",
			Port:       "9001",
			CORSOrigin: "*",
		},
		Agent: Agent{
			Name:        "JellyRoute",
			Description: "Routes natural-language requests to the Jellyfin media server through domain agents.",
			Version:     "0.1.1",
		},
		LiteLLM: LiteLLM{
			URL:         "http://localhost:4000",
			Model:       "gpt-4o",
			Temperature: 0.7,
			TopP:        1.0,
			MaxTokens:   8192,
		},
		MCP: MCP{
			URL:            "http://localhost:8000/mcp",
			ConnectTimeout: 15 * time.Second,
		},
		Routing: Routing{
			ConfidenceThreshold: 0.6,
			MaxReroutes:         2,
		},
		Executor: Executor{
			MaxIterations:     8,
			MaxCorrections:    2,
			CallTimeout:       30 * time.Second,
			CompletionTimeout: 60 * time.Second,
		},
		Task: Task{
			Timeout:       5 * time.Minute,
			MaxConcurrent: 16,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Stream: "JELLYROUTE",
		},
		Cache: Cache{
			L1MaxSizeMB: 64,
			L2Bucket:    "jellyroute-cache",
			L2TTL:       10 * time.Minute,
			ResponseTTL: 24 * time.Hour,
		},
		Idempotency: Idempotency{
			TTL: 10 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "jellyroute",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 5,
			Burst:             20,
			MaxIdleTime:       10 * time.Minute,
		},
		OTEL: OTEL{
			Exporter:    "otlp",
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "jellyroute",
			SampleRate:  1.0,
		},
	}
}
