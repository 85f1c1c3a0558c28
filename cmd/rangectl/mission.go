package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/r3e-network/cyberrange/internal/config"
	domainmission "github.com/r3e-network/cyberrange/internal/domain/mission"
)

func handleMission(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("mission: missing subcommand (create, start, cancel)")
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch args[0] {
	case "create":
		return missionCreate(ctx, a, args[1:])
	case "start":
		return missionStart(ctx, a, args[1:])
	case "cancel":
		return missionCancel(ctx, a, args[1:])
	default:
		return fmt.Errorf("mission: unknown subcommand %q", args[0])
	}
}

func missionCreate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("mission create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	targetVMID := fs.String("target-vm-id", "", "existing VM's native id to target")
	exploits := fs.String("exploits", "", "comma-separated exploit names, in injection order")
	platformKind := fs.String("platform-kind", "onprem", "backend kind the target VM lives on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *exploits == "" {
		return fmt.Errorf("mission create: --exploits is required")
	}

	m := domainmission.Mission{
		ID:           uuid.NewString(),
		PlatformKind: *platformKind,
		TargetVMID:   *targetVMID,
		ExploitNames: strings.Split(*exploits, ","),
		State:        domainmission.StatePending,
	}
	if err := a.store.SaveMission(ctx, m); err != nil {
		return err
	}
	fmt.Println(m.ID)
	return nil
}

func missionStart(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("mission start", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	missionID := fs.String("mission-id", "", "mission id to start")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *missionID == "" {
		return fmt.Errorf("mission start: --mission-id is required")
	}

	m, err := a.store.GetMission(ctx, *missionID)
	if err != nil {
		return fmt.Errorf("load mission: %w", err)
	}

	result, err := a.missionEngine.Start(ctx, m)
	if err != nil {
		return fmt.Errorf("mission %s: %w", *missionID, err)
	}

	fmt.Printf("mission %s: %s (progress %d%%)\n", result.ID, result.State, result.Progress)
	if result.State == domainmission.StateFailed {
		return fmt.Errorf("mission %s failed", result.ID)
	}
	return nil
}

func missionCancel(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("mission cancel", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	missionID := fs.String("mission-id", "", "mission id to cancel")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *missionID == "" {
		return fmt.Errorf("mission cancel: --mission-id is required")
	}

	if !a.missionEngine.Cancel(*missionID) {
		return fmt.Errorf("mission %s is not running", *missionID)
	}
	fmt.Printf("mission %s cancel requested\n", *missionID)
	return nil
}
