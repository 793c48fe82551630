package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jllopis/ecomentor/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		exitWith(NewInvalidArgumentError("flags", err.Error()), global.JSON)
	}
	if global.Help || len(args) == 0 {
		printUsage(os.Stdout)
		return
	}

	switch args[0] {
	case "help":
		printUsage(os.Stdout)
		return
	case "version":
		printVersion(os.Stdout, global.JSON)
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		exitWith(NewConfigError(err, configPath(global.ConfigArgs)), global.JSON)
	}

	switch args[0] {
	case "serve":
		err = runServe(ctx, cfg, args[1:])
	case "ask":
		err = runAsk(ctx, global, cfg, args[1:])
	case "route":
		err = runRoute(ctx, global, cfg, args[1:])
	case "ingest":
		err = runIngest(ctx, global, cfg, args[1:])
	case "mcp":
		err = runMCP(cfg, args[1:])
	default:
		err = NewInvalidArgumentError("command", fmt.Sprintf("unknown command %q", args[0]))
	}
	if err != nil {
		exitWith(err, global.JSON)
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{Timeout: 120 * time.Second}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config=") || strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

func printVersion(w io.Writer, asJSON bool) {
	if asJSON {
		writeJSON(w, map[string]string{"version": version})
		return
	}
	fmt.Fprintln(w, version)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `ecomentor answers economics questions from macro, firm and household perspectives.

Usage:
  ecomentor [global flags] <command> [args]

Global flags:
  --config <path>      YAML configuration file
  --set key=value      Override config (repeatable)
  --timeout <dur>      Timeout for ask, route and ingest (default 120s)
  --json               JSON output

Commands:
  serve                          Start the HTTP API (/ask, /ask/stream, /health, /history)
  ask [--mode m] [--roles r,r] [--stream] <question>
  route <question>               Show the routing decision only
  ingest [--namespace ns] [--batch N] <file.jsonl|->...
  mcp                            Serve the ask and route tools over MCP stdio
  version
  help
`)
}

func writeJSON(w io.Writer, value any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(value)
}
