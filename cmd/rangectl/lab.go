package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/r3e-network/cyberrange/internal/config"
	"github.com/r3e-network/cyberrange/internal/corekit"
	"github.com/r3e-network/cyberrange/internal/domain/intent"
)

func handleLab(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("lab: missing subcommand (list, show, create, delete)")
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch args[0] {
	case "list":
		return labList(ctx, a, args[1:])
	case "show":
		return labShow(ctx, a, args[1:])
	case "create":
		return labCreate(ctx, a, args[1:])
	case "delete":
		return labDelete(ctx, a, args[1:])
	default:
		return fmt.Errorf("lab: unknown subcommand %q", args[0])
	}
}

func labList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("lab list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", corekit.DefaultListLimit, "maximum number of labs to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	intents, err := a.store.ListIntents(ctx)
	if err != nil {
		return err
	}
	n := corekit.ClampLimit(*limit, corekit.DefaultListLimit, corekit.MaxListLimit)
	if n < len(intents) {
		intents = intents[:n]
	}
	for _, in := range intents {
		fmt.Printf("%s\t%s\t%d nodes\n", in.LabID, in.IntentID, len(in.Nodes))
	}
	return nil
}

func labShow(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("lab show", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	labID := fs.String("lab-id", "", "lab id to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *labID == "" {
		return fmt.Errorf("lab show: --lab-id is required")
	}

	in, err := a.store.GetIntent(ctx, *labID)
	if err != nil {
		return err
	}
	return printJSON(in)
}

func labCreate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("lab create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("file", "", "path to a JSON-encoded lab intent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("lab create: --file is required")
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("read intent file: %w", err)
	}
	var in intent.LabIntent
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("parse intent file: %w", err)
	}
	if err := in.Validate(); err != nil {
		return fmt.Errorf("invalid lab intent: %w", err)
	}

	if err := a.store.SaveIntent(ctx, in); err != nil {
		return err
	}
	fmt.Printf("lab %s accepted\n", in.LabID)
	return nil
}

func labDelete(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("lab delete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	labID := fs.String("lab-id", "", "lab id to delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *labID == "" {
		return fmt.Errorf("lab delete: --lab-id is required")
	}
	if err := a.store.DeleteIntent(ctx, *labID); err != nil {
		return err
	}
	fmt.Printf("lab %s deleted\n", *labID)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
