package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cfnats "github.com/Strob0t/JellyRoute/internal/adapter/nats"
	"github.com/Strob0t/JellyRoute/internal/port/messagequeue"
)

// runEvents prints task lifecycle events from NATS until interrupted.
func runEvents(args []string) error {
	cfg, _, closeLog, err := loadConfig(args, "warn")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer closeLog()
	if cfg.NATS.URL == "" {
		return errors.New("events requires nats.url (NATS_URL or --nats-url)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = q.Close() }()

	cancel, err := q.Subscribe(ctx, messagequeue.SubjectTaskAll, func(_ context.Context, subject string, data []byte) error {
		fmt.Printf("%s %s\n", subject, data)
		return nil
	})
	if err != nil {
		return err
	}
	defer cancel()

	<-ctx.Done()
	return nil
}
