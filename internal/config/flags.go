package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds command-line overrides. A nil field was not given.
type CLIFlags struct {
	ConfigPath *string
	Host       *string
	Port       *string
	LogLevel   *string
	MCPURL     *string
	Model      *string
	DSN        *string
	NatsURL    *string

	// Args are the positional arguments left after the flags.
	Args []string
}

// ParseFlags parses serve/ask flags. Both long and short forms are accepted
// for the config path (-c) and port (-p).
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("jellyroute", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath, host, port, logLevel string
		mcpURL, model, dsn, natsURL      string
	)
	fs.StringVar(&configPath, "config", "", "YAML config path")
	fs.StringVar(&configPath, "c", "", "YAML config path (shorthand)")
	fs.StringVar(&host, "host", "", "listen host")
	fs.StringVar(&port, "port", "", "listen port")
	fs.StringVar(&port, "p", "", "listen port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&mcpURL, "mcp-url", "", "MCP server URL")
	fs.StringVar(&model, "model-id", "", "LLM model id")
	fs.StringVar(&dsn, "dsn", "", "Postgres DSN for the task archive")
	fs.StringVar(&natsURL, "nats-url", "", "NATS URL for task events")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var out CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			out.ConfigPath = &configPath
		case "host":
			out.Host = &host
		case "port", "p":
			out.Port = &port
		case "log-level":
			out.LogLevel = &logLevel
		case "mcp-url":
			out.MCPURL = &mcpURL
		case "model-id":
			out.Model = &model
		case "dsn":
			out.DSN = &dsn
		case "nats-url":
			out.NatsURL = &natsURL
		}
	})
	out.Args = fs.Args()
	return out, nil
}

// LoadWithCLI loads the hierarchy defaults < YAML < ENV < CLI and returns
// the config together with the YAML path that was consulted.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, f CLIFlags) {
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&cfg.Server.Host, f.Host)
	apply(&cfg.Server.Port, f.Port)
	apply(&cfg.Logging.Level, f.LogLevel)
	apply(&cfg.MCP.URL, f.MCPURL)
	apply(&cfg.LiteLLM.Model, f.Model)
	apply(&cfg.Postgres.DSN, f.DSN)
	apply(&cfg.NATS.URL, f.NatsURL)
}
