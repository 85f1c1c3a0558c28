package polling

import (
	"context"
	"time"

	"github.com/r3e-network/cyberrange/internal/config"
	"github.com/r3e-network/cyberrange/internal/corekit"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/logger"
	"github.com/r3e-network/cyberrange/internal/platform"
	"github.com/r3e-network/cyberrange/internal/registry"
)

// service is the narrow Start/Stop contract every agent satisfies,
// matching the teacher's system.Service shape.
type service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Group owns one TickerAgent (Tier 1), two CronAgent (Tier 2: templates and
// hosts), and one DiscoveryAgent (Tier 3) per configured backend instance,
// and starts/stops them together.
type Group struct {
	log    *logger.Logger
	tracer corekit.Tracer
	agents []service
}

// NewGroup builds a Group from every adapter registered on dispatcher.
// Tier 1 polls live VMs; Tier 2 polls the slower-changing Templates and
// Hosts inventories; Tier 3 correlates discovered DHCP/ARP leases onto the
// NICs of the VMs the backend lists (spec.md §4.4). Tier periods
// come from cfg, never hardcoded.
func NewGroup(dispatcher *platform.Dispatcher, store registry.Store, cfg config.RuntimeConfig, log *logger.Logger) (*Group, error) {
	if log == nil {
		log = logger.NewDefault("polling-group")
	}
	g := &Group{log: log, tracer: corekit.NoopTracer}

	for _, key := range dispatcher.Keys() {
		adapter, err := dispatcher.Resolve(key)
		if err != nil {
			return nil, err
		}

		tier2Grace := cfg.Tier2PollInterval * time.Duration(cfg.MissingGraceFactor)
		tier1 := NewTickerAgent(resource.KindVM, adapter, store, cfg.Tier1PollInterval, cfg.MissingGraceFactor, log)
		tier2Templates := NewCronAgent(TierInventory, resource.KindTemplate, adapter, store, cronSpecForPeriod(cfg.Tier2PollInterval), tier2Grace, log)
		tier2Hosts := NewCronAgent(TierInventory, resource.KindHost, adapter, store, cronSpecForPeriod(cfg.Tier2PollInterval), tier2Grace, log)
		tier3 := NewDiscoveryAgent(adapter, store, cronSpecForPeriod(cfg.Tier3PollInterval), log)

		g.agents = append(g.agents, tier1, tier2Templates, tier2Hosts, tier3)
	}

	return g, nil
}

// WithTracer installs a tracer on every agent in the group.
func (g *Group) WithTracer(tracer corekit.Tracer) *Group {
	if tracer == nil {
		tracer = corekit.NoopTracer
	}
	g.tracer = tracer
	for _, a := range g.agents {
		switch agent := a.(type) {
		case *TickerAgent:
			agent.WithTracer(tracer)
		case *CronAgent:
			agent.WithTracer(tracer)
		case *DiscoveryAgent:
			agent.WithTracer(tracer)
		}
	}
	return g
}

// Name identifies the group for the lifecycle manager.
func (g *Group) Name() string { return "polling-group" }

// Descriptor advertises the group's placement to the lifecycle manager.
func (g *Group) Descriptor() corekit.Descriptor {
	return corekit.Descriptor{Name: g.Name(), Layer: corekit.LayerPolling, Capabilities: []string{"tier1", "tier2", "tier3"}}
}

// Start starts every agent in the group. If one fails to start, the
// agents already started are stopped before the error is returned.
func (g *Group) Start(ctx context.Context) error {
	started := make([]service, 0, len(g.agents))
	for _, a := range g.agents {
		if err := a.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return err
		}
		started = append(started, a)
	}
	return nil
}

// Stop stops every agent in the group, collecting but not short-circuiting
// on the first error so every agent gets a chance to shut down cleanly.
func (g *Group) Stop(ctx context.Context) error {
	var firstErr error
	for _, a := range g.agents {
		if err := a.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// cronSpecForPeriod renders a fixed-interval cron descriptor from a
// duration using robfig/cron's "@every" shorthand.
func cronSpecForPeriod(period time.Duration) string {
	if period <= 0 {
		period = time.Minute
	}
	return "@every " + period.String()
}
