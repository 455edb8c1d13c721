package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Strob0t/JellyRoute/internal/adapter/postgres"
)

// runMigrate manages the archive schema: up, down [steps] or version.
func runMigrate(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: jellyroute migrate <up|down [steps]|version>")
	}
	cmd := args[0]
	cfg, flags, closeLog, err := loadConfig(args[1:], "")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer closeLog()
	if cfg.Postgres.DSN == "" {
		return errors.New("migrate requires postgres.dsn (DATABASE_URL or --dsn)")
	}

	m, err := postgres.OpenMigrator(cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	switch cmd {
	case "up":
		return m.Up(ctx)
	case "down":
		steps := 1
		if len(flags.Args) > 0 {
			n, err := strconv.Atoi(flags.Args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid steps %q", flags.Args[0])
			}
			steps = n
		}
		return m.Down(ctx, steps)
	case "version":
		v, err := m.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	default:
		return fmt.Errorf("unknown migrate command: %s", cmd)
	}
}
