package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/Strob0t/JellyRoute/internal/adapter/mcp"
	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
)

// runRegistry dispatches registry subcommands.
func runRegistry(args []string) error {
	if len(args) == 0 || args[0] != "check" {
		return errors.New("usage: jellyroute registry check [--verify] [--seed path]")
	}

	fs := flag.NewFlagSet("registry check", flag.ContinueOnError)
	verify := fs.Bool("verify", false, "also check that the MCP server serves every tool")
	seed := fs.String("seed", "", "seed file (default: configured or embedded seed)")
	configPath := fs.String("config", "", "YAML config path")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfgArgs := []string{}
	if *configPath != "" {
		cfgArgs = append(cfgArgs, "--config", *configPath)
	}
	cfg, _, closeLog, err := loadConfig(cfgArgs, "warn")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer closeLog()
	if *seed != "" {
		cfg.Registry.SeedPath = *seed
	}

	reg, err := capability.BuildRegistry(cfg.Registry.SeedPath)
	if err != nil {
		return err
	}
	if err := printRegistry(os.Stdout, reg); err != nil {
		return err
	}
	if !*verify {
		return nil
	}
	return verifyServer(cfg, reg)
}

// printRegistry writes one line per domain with its tool counts.
func printRegistry(out io.Writer, reg *capability.Registry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tTOOLS\tDESTRUCTIVE\tDESCRIPTION")
	for _, info := range reg.DomainInfos() {
		destructive := 0
		tools := reg.Slice(info.Name)
		for _, t := range tools {
			if t.SideEffect == capability.SideEffectDestructive {
				destructive++
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", info.Name, len(tools), destructive, info.Description)
	}
	fmt.Fprintf(w, "total\t%d\t\t\n", reg.Len())
	return w.Flush()
}

func verifyServer(cfg *config.Config, reg *capability.Registry) error {
	ctx := context.Background()
	client, err := mcp.Connect(ctx, &cfg.MCP, reg, nil, cfg.Agent.Name, cfg.Agent.Version)
	if err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	defer func() { _ = client.Close() }()

	missing, err := client.Verify(ctx, reg, false)
	if err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	name, ver := client.ServerInfo()
	if len(missing) == 0 {
		fmt.Printf("mcp server %s %s serves all %d tools\n", name, ver, reg.Len())
		return nil
	}
	for _, m := range missing {
		fmt.Printf("missing on %s: %s\n", name, m)
	}
	return fmt.Errorf("%d tools missing on mcp server", len(missing))
}
