package main

import (
	"context"
	"flag"
	"io"

	"github.com/r3e-network/cyberrange/internal/config"
	"github.com/r3e-network/cyberrange/internal/drift"
	"github.com/r3e-network/cyberrange/internal/polling"
	"github.com/r3e-network/cyberrange/internal/system"
)

// handleServe wires the control plane's long-lived services — the polling
// agent group for every registered platform adapter, and one drift watcher
// per known lab intent — into a lifecycle Manager, then blocks until
// SIGINT/SIGTERM.
func handleServe(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	mgr := system.NewManager()

	group, err := polling.NewGroup(a.dispatch, a.reg, cfg.Runtime, a.log)
	if err != nil {
		return err
	}
	if err := mgr.Register(group); err != nil {
		return err
	}

	intents, err := a.store.ListIntents(ctx)
	if err != nil {
		return err
	}
	for _, in := range intents {
		watcher := drift.NewWatcher(drift.NewDetector(a.reg), a.reg, in, cfg.Runtime.CIDRBlock, cfg.Runtime.Tier2PollInterval, a.log)
		if err := mgr.Register(watcher); err != nil {
			return err
		}
	}

	return system.RunUntilSignal(ctx, mgr, a.log)
}
