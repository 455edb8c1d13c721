package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/Strob0t/JellyRoute/internal/adapter/http"
	cfotel "github.com/Strob0t/JellyRoute/internal/adapter/otel"
	"github.com/Strob0t/JellyRoute/internal/adapter/ws"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/middleware"
	a2aport "github.com/Strob0t/JellyRoute/internal/port/a2a"
)

func runServe(args []string) error {
	cfg, _, closeLog, err := loadConfig(args, "")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL, cfg.Agent.Version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Error("otel shutdown failed", "error", err)
		}
	}()

	hub := ws.NewHub(nil)
	a, err := newApp(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer a.Close()
	hub.SetRunner(a.supervisor)

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(middleware.APIKeyAuth(cfg.Server.APIKeys))
	r.Use(limiter.Handler)
	r.Use(middleware.Idempotency(a.cache, cfg.Idempotency.TTL))

	handlers := &cfhttp.Handlers{
		Tasks:   a.supervisor,
		Health:  a.healthChecks(),
		Version: cfg.Agent.Version,
	}
	if a.history != nil {
		handlers.Sessions = a.history
		handlers.Events = a.events
	}
	cfhttp.MountRoutes(r, handlers)
	r.Get("/ws", hub.HandleWS)

	domains := func() []capability.DomainInfo { return a.registry.DomainInfos() }
	a2aport.NewHandler(a.supervisor, domains, &cfg.Agent, a.cache, cfg.Cache.ResponseTTL).MountRoutes(r)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Long enough for a task at its deadline to respond.
		WriteTimeout: cfg.Task.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", cfg.Agent.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server", "ws_connections", hub.ConnectionCount())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
