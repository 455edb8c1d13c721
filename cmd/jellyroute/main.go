package main

import (
	"fmt"
	"log/slog"
	"os"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = ""

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run dispatches subcommands. Without one, the server starts.
func run(args []string) error {
	if len(args) == 0 {
		return runServe(nil)
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "ask":
		return runAsk(args[1:])
	case "registry":
		return runRegistry(args[1:])
	case "events":
		return runEvents(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "help", "--help", "-h":
		printHelp()
		return nil
	default:
		if args[0] != "" && args[0][0] == '-' {
			return runServe(args)
		}
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: jellyroute <command> [options]

Commands:
  serve              Start the HTTP, WebSocket and A2A server (default)
  ask "<text>"       Route a single request and print the answer
  registry check     Validate the capability registry (add --verify to check the MCP server)
  events             Print task lifecycle events from NATS
  migrate <up|down|version>
                     Manage the task archive schema
  help               Show this help message

Options (all commands):
  -c, --config       YAML config path (default jellyroute.yaml)
  -p, --port         Listen port
  --host             Listen host
  --log-level        debug, info, warn or error
  --mcp-url          MCP server URL
  --model-id         LLM model id
  --dsn              Postgres DSN for the task archive
  --nats-url         NATS URL for task events

Examples:
  jellyroute serve --port 9001
  jellyroute ask "What's on channel 5?"
  jellyroute registry check --verify
`)
}
