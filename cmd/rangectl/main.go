// Command rangectl is the cyber-range control plane's operator CLI. Unlike
// the teacher's slctl, which drives a running API server over HTTP,
// rangectl wires its collaborators (config, Persisted Store, Lab Registry,
// platform dispatcher, Deployment Engine, Mission Engine) directly in the
// same process — the control plane has no HTTP request layer to speak to.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/r3e-network/cyberrange/internal/config"
	"github.com/r3e-network/cyberrange/internal/runtime"
	"github.com/r3e-network/cyberrange/internal/version"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	root := flag.NewFlagSet("rangectl", flag.ContinueOnError)
	root.SetOutput(io.Discard)
	configPath := root.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file (env CONFIG_FILE)")
	showVersion := root.Bool("version", false, "print rangectl build information and exit")
	if err := root.Parse(args); err != nil {
		printRootUsage()
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	if *showVersion {
		fmt.Println(version.FullVersion())
		return 0
	}

	remaining := root.Args()
	if len(remaining) == 0 {
		printRootUsage()
		fmt.Fprintln(os.Stderr, "Error: no command specified")
		return 1
	}

	if runtime.IsDevelopment() {
		fmt.Fprintln(os.Stderr, "rangectl: running in development mode (set RANGE_ENV=production to silence this)")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	var cmdErr error
	switch remaining[0] {
	case "init":
		cmdErr = handleInit(ctx, cfg, remaining[1:])
	case "serve":
		cmdErr = handleServe(ctx, cfg, remaining[1:])
	case "lab":
		cmdErr = handleLab(ctx, cfg, remaining[1:])
	case "deploy":
		cmdErr = handleDeploy(ctx, cfg, remaining[1:])
	case "mission":
		cmdErr = handleMission(ctx, cfg, remaining[1:])
	default:
		printRootUsage()
		cmdErr = fmt.Errorf("unknown command %q", remaining[0])
	}

	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, "Error:", cmdErr)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func printRootUsage() {
	fmt.Println(`rangectl - cyber-range control plane CLI

Usage:
  rangectl [--config path] <command> [subcommand] [flags]

Commands:
  init      Apply database migrations and seed the exploit library
  serve     Run the control plane's long-lived services until signaled
  lab       Manage lab intents (list, show, create, delete)
  deploy    Manage deployments (list, create, destroy)
  mission   Manage missions (create, start, cancel)`)
}
