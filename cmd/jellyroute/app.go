package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	cfhttp "github.com/Strob0t/JellyRoute/internal/adapter/http"
	"github.com/Strob0t/JellyRoute/internal/adapter/litellm"
	"github.com/Strob0t/JellyRoute/internal/adapter/mcp"
	cfnats "github.com/Strob0t/JellyRoute/internal/adapter/nats"
	"github.com/Strob0t/JellyRoute/internal/adapter/natskv"
	cfotel "github.com/Strob0t/JellyRoute/internal/adapter/otel"
	"github.com/Strob0t/JellyRoute/internal/adapter/postgres"
	cfredis "github.com/Strob0t/JellyRoute/internal/adapter/redis"
	"github.com/Strob0t/JellyRoute/internal/adapter/ristretto"
	"github.com/Strob0t/JellyRoute/internal/adapter/tiered"
	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	mcpdomain "github.com/Strob0t/JellyRoute/internal/domain/mcp"
	"github.com/Strob0t/JellyRoute/internal/logger"
	"github.com/Strob0t/JellyRoute/internal/port/archive"
	"github.com/Strob0t/JellyRoute/internal/port/broadcast"
	"github.com/Strob0t/JellyRoute/internal/port/cache"
	"github.com/Strob0t/JellyRoute/internal/resilience"
	"github.com/Strob0t/JellyRoute/internal/service"
)

// app holds the wired components shared by serve and ask.
type app struct {
	cfg        *config.Config
	registry   *capability.Registry
	llm        *litellm.Client
	tools      *mcp.Client
	pg         *pgxpool.Pool
	queue      *cfnats.Queue
	cache      cache.Cache
	supervisor *service.Supervisor
	history    *postgres.Archive
	events     *postgres.EventStore

	closers []func()
}

// loadConfig parses flags and loads the configuration, then installs the
// default logger. quietLevel, when set, replaces the configured log level
// unless --log-level was given. The returned closer flushes the logger.
func loadConfig(args []string, quietLevel string) (*config.Config, config.CLIFlags, func(), error) {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return nil, flags, nil, err
	}
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, flags, nil, err
	}
	if version != "" {
		cfg.Agent.Version = version
	}
	if quietLevel != "" && flags.LogLevel == nil {
		cfg.Logging.Level = quietLevel
	}

	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	slog.Info("config loaded", "path", path, "port", cfg.Server.Port, "log_level", cfg.Logging.Level)
	return cfg, flags, closer.Close, nil
}

// newApp wires the router. Optional infrastructure (Postgres, NATS, the L2
// cache) is connected only when configured. hubs receive task events in
// addition to NATS.
func newApp(ctx context.Context, cfg *config.Config, hubs ...broadcast.Broadcaster) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.init(ctx, hubs); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, hubs []broadcast.Broadcaster) error {
	cfg := a.cfg

	reg, err := capability.BuildRegistry(cfg.Registry.SeedPath)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	a.registry = reg
	slog.Info("registry built", "tools", reg.Len())

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	if cfg.Postgres.DSN != "" {
		if err := postgres.Migrate(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.pg = pool
		a.closers = append(a.closers, pool.Close)
		slog.Info("postgres connected")
	}

	if cfg.NATS.URL != "" {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		a.queue = q
		a.closers = append(a.closers, func() { _ = q.Close() })
	}

	if err := a.initCache(ctx); err != nil {
		return err
	}

	// --- Providers ---

	a.llm = litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
	a.llm.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	a.llm.SetTransport(cfotel.Transport(http.DefaultTransport))
	provider := litellm.NewProvider(a.llm, &cfg.LiteLLM)
	if ok, err := a.llm.HasModel(ctx, cfg.LiteLLM.Model); err != nil {
		slog.Warn("litellm model check skipped", "error", err)
	} else if !ok {
		slog.Warn("model not configured on litellm", "model", cfg.LiteLLM.Model)
	}

	tools, err := mcp.Connect(ctx, &cfg.MCP, reg,
		resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
		cfg.Agent.Name, cfg.Agent.Version)
	if err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	a.tools = tools
	a.closers = append(a.closers, func() { _ = tools.Close() })

	if _, err := tools.Verify(ctx, reg, cfg.MCP.VerifyTools); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}

	// --- Services ---

	var fanout broadcast.Multi
	fanout = append(fanout, hubs...)
	if a.queue != nil {
		fanout = append(fanout, cfnats.NewPublisher(a.queue))
	}
	var durable archive.Store
	if a.pg != nil {
		a.events = postgres.NewEventStore(a.pg)
		a.history = postgres.NewArchive(a.pg)
		fanout = append(fanout, a.events)
		durable = a.history
	}

	dispatcher := service.NewDispatcher(tools, &cfg.Executor)
	dispatcher.SetMetrics(metrics)
	executor := service.NewDomainExecutor(reg, provider, dispatcher, fanout, &cfg.Executor)

	a.supervisor = service.NewSupervisor(reg, provider, executor, service.NewPool(cfg.Task.MaxConcurrent), cfg)
	a.supervisor.SetBroadcaster(fanout)
	a.supervisor.SetArchive(service.NewCachedArchive(durable, a.cache, cfg.Cache.ResponseTTL))
	a.supervisor.SetMetrics(metrics)
	return nil
}

// initCache builds the tiered response cache: ristretto in process, backed
// by NATS KV or Redis when configured.
func (a *app) initCache(ctx context.Context) error {
	cfg := a.cfg.Cache

	l1, err := ristretto.New(cfg.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	a.closers = append(a.closers, l1.Close)

	var l2 cache.Cache
	switch cfg.L2 {
	case "":
	case "nats":
		if a.queue == nil {
			return errors.New("cache.l2 nats requires nats.url")
		}
		kv, err := natskv.Open(ctx, a.queue.JetStream(), cfg.L2Bucket, cfg.L2TTL)
		if err != nil {
			return fmt.Errorf("l2 cache: %w", err)
		}
		l2 = kv
	case "redis":
		rc, err := cfredis.New(ctx, cfg.RedisURL, "jellyroute:")
		if err != nil {
			return fmt.Errorf("l2 cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		l2 = rc
	default:
		return fmt.Errorf("unknown cache.l2 %q", cfg.L2)
	}

	a.cache = tiered.New(l1, l2, cfg.L2TTL)
	slog.Info("response cache ready", "l1_mb", cfg.L1MaxSizeMB, "l2", cfg.L2)
	return nil
}

// healthChecks lists the dependencies reported by GET /health.
func (a *app) healthChecks() []cfhttp.HealthCheck {
	checks := []cfhttp.HealthCheck{
		{Name: "litellm", Check: func(ctx context.Context) error {
			ok, err := a.llm.Health(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("unhealthy")
			}
			return nil
		}},
		{Name: "mcp", Check: func(context.Context) error {
			if s := a.tools.Status(); s != mcpdomain.ServerStatusConnected {
				return fmt.Errorf("status %s", s)
			}
			return nil
		}},
	}
	if a.pg != nil {
		checks = append(checks, cfhttp.HealthCheck{Name: "postgres", Optional: true, Check: a.pg.Ping})
	}
	if a.queue != nil {
		checks = append(checks, cfhttp.HealthCheck{Name: "nats", Optional: true, Check: func(context.Context) error {
			if !a.queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}})
	}
	return checks
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
