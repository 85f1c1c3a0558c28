package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/r3e-network/cyberrange/internal/config"
	"github.com/r3e-network/cyberrange/internal/deploy"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/platform"
)

func handleDeploy(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("deploy: missing subcommand (list, create, destroy)")
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch args[0] {
	case "list":
		return deployList(ctx, a, args[1:])
	case "create":
		return deployCreate(ctx, a, args[1:])
	case "destroy":
		return deployDestroy(ctx, a, args[1:])
	default:
		return fmt.Errorf("deploy: unknown subcommand %q", args[0])
	}
}

func deployList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("deploy list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	labID := fs.String("lab-id", "", "restrict to one lab id; every known lab if omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	labIDs := []string{*labID}
	if *labID == "" {
		intents, err := a.store.ListIntents(ctx)
		if err != nil {
			return err
		}
		labIDs = labIDs[:0]
		for _, in := range intents {
			labIDs = append(labIDs, in.LabID)
		}
	}

	for _, id := range labIDs {
		resources, err := a.reg.Snapshot(ctx, id)
		if err != nil {
			return err
		}
		for _, r := range resources {
			fmt.Printf("%s\t%s\t%s\t%s\n", r.LabID, r.Identity.String(), r.Kind, r.State)
		}
	}
	return nil
}

func deployCreate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("deploy create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	labID := fs.String("lab-id", "", "lab id whose accepted intent to deploy")
	backendKind := fs.String("backend-kind", "onprem", "platform adapter family to deploy onto")
	backendInstance := fs.String("backend-instance", "", "configured adapter instance name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *labID == "" || *backendInstance == "" {
		return fmt.Errorf("deploy create: --lab-id and --backend-instance are required")
	}

	in, err := a.store.GetIntent(ctx, *labID)
	if err != nil {
		return fmt.Errorf("load lab intent: %w", err)
	}

	plan, err := deploy.BuildPlan(uuid.NewString(), in)
	if err != nil {
		return fmt.Errorf("build deploy plan: %w", err)
	}

	engine, err := a.deployEngineFor(*backendKind)
	if err != nil {
		return err
	}

	result, err := engine.Execute(ctx, plan, *backendInstance)
	if err != nil {
		return fmt.Errorf("deploy %s: %w", plan.DeployID, err)
	}

	fmt.Printf("deploy %s for lab %s: %s\n", result.DeployID, result.LabID, result.State)
	if result.State == deploy.DeployFailed {
		return fmt.Errorf("deploy %s failed", result.DeployID)
	}
	return nil
}

func deployDestroy(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("deploy destroy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	labID := fs.String("lab-id", "", "lab id to tear down")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *labID == "" {
		return fmt.Errorf("deploy destroy: --lab-id is required")
	}

	resources, err := a.reg.Snapshot(ctx, *labID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, r := range resources {
		if r.Kind != resource.KindVM && r.Kind != resource.KindGateway {
			continue
		}
		key := platform.Key{Kind: r.Identity.BackendKind, Instance: r.Identity.BackendInstance}
		derr := a.dispatch.Dispatch(ctx, key, func(ctx context.Context, ad platform.Adapter) error {
			return ad.Delete(ctx, r.Identity.NativeID, true)
		})
		if derr != nil && firstErr == nil {
			firstErr = derr
			continue
		}
		if err := a.reg.Delete(ctx, r.Identity); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	fmt.Printf("lab %s destroyed\n", *labID)
	return nil
}
