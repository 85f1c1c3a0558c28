package polling

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/cyberrange/internal/config"
	"github.com/r3e-network/cyberrange/internal/platform"
)

func TestNewGroupBuildsFourAgentsPerAdapter(t *testing.T) {
	dispatcher := platform.NewDispatcher()
	dispatcher.Register(&fakeAdapter{kind: "onprem", instance: "cluster-a"}, 4)
	dispatcher.Register(&fakeAdapter{kind: "cloudcompute", instance: "gcp-west"}, 4)

	cfg := config.New().Runtime
	store := newFakeStore()

	g, err := NewGroup(dispatcher, store, cfg, nil)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	if len(g.agents) != 8 {
		t.Fatalf("expected 4 agents per adapter (tier1 vm, tier2 template, tier2 host, tier3 discovery) x 2 adapters = 8, got %d", len(g.agents))
	}
}

func TestGroupStartStopLifecycle(t *testing.T) {
	dispatcher := platform.NewDispatcher()
	dispatcher.Register(&fakeAdapter{kind: "onprem", instance: "cluster-a"}, 4)

	cfg := config.New().Runtime
	cfg.Tier1PollInterval = 10 * time.Millisecond
	store := newFakeStore()

	g, err := NewGroup(dispatcher, store, cfg, nil)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := g.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
