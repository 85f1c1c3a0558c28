// Package polling runs the tiered background agents that keep the Lab
// Registry synchronized with what backends actually report. Tier 1
// (sub-minute VM liveness) runs on a plain ticker grounded directly on the
// teacher's automation.Scheduler: a loop that never overlaps itself,
// guarded by a running flag, with a tracer span wrapped around every tick.
// Tiers 2 and 3 (slow inventory and discovery) run on robfig/cron with an
// "@every <period>" schedule built from the configured period.
package polling

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/cyberrange/internal/corekit"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/logger"
	"github.com/r3e-network/cyberrange/internal/platform"
	"github.com/r3e-network/cyberrange/internal/registry"
)

// Tier identifies a polling cadence class.
type Tier string

const (
	TierLiveness  Tier = "tier1_liveness"
	TierInventory Tier = "tier2_inventory"
	TierDiscovery Tier = "tier3_discovery"
)

// poller holds the list -> register -> mark_missing cycle shared by both
// the ticker-driven and cron-driven agents. It is not itself schedulable;
// TickerAgent and CronAgent each drive it on their own clock.
type poller struct {
	tier         Tier
	resourceKind resource.Kind
	adapter      platform.Adapter
	store        registry.Store
	grace        time.Duration
	log          *logger.Logger
	tracer       corekit.Tracer

	seenMu sync.Mutex
	seen   map[string]resource.Identity // identities observed on the most recent tick
}

func newPoller(tier Tier, resourceKind resource.Kind, adapter platform.Adapter, store registry.Store, grace time.Duration, log *logger.Logger) *poller {
	if log == nil {
		log = logger.NewDefault("polling-agent")
	}
	return &poller{
		tier:         tier,
		resourceKind: resourceKind,
		adapter:      adapter,
		store:        store,
		grace:        grace,
		log:          log,
		tracer:       corekit.NoopTracer,
		seen:         make(map[string]resource.Identity),
	}
}

func (p *poller) name() string {
	return "polling-agent:" + p.adapter.BackendKind() + ":" + p.adapter.BackendInstance() + ":" + string(p.tier) + ":" + string(p.resourceKind)
}

// tick performs a single list -> register -> mark_missing cycle. Callers
// are responsible for guaranteeing a tick never overlaps itself.
func (p *poller) tick(ctx context.Context) {
	spanCtx, finishSpan := p.tracer.StartSpan(ctx, "polling.tick", map[string]string{
		"backend_kind":     p.adapter.BackendKind(),
		"backend_instance": p.adapter.BackendInstance(),
		"tier":             string(p.tier),
	})

	observed := make(map[string]resource.Identity)
	var tickErr error

	visitor := func(r resource.Resource) bool {
		select {
		case <-spanCtx.Done():
			tickErr = spanCtx.Err()
			return false
		default:
		}
		observed[r.Identity.String()] = r.Identity
		if err := p.store.Register(spanCtx, r); err != nil {
			p.log.WithError(err).WithField("resource", r.Identity.String()).Warn("register resource failed")
		}
		return true
	}

	if err := p.adapter.ListResources(spanCtx, p.resourceKind, visitor); err != nil {
		p.log.WithError(err).WithField("agent", p.name()).Warn("list resources failed")
		tickErr = err
	}

	p.seenMu.Lock()
	previouslySeen := p.seen
	p.seen = observed
	p.seenMu.Unlock()

	for key, id := range previouslySeen {
		if _, stillThere := observed[key]; stillThere {
			continue
		}
		if err := p.store.MarkMissing(spanCtx, id, p.grace); err != nil {
			p.log.WithError(err).WithField("resource", key).Warn("mark missing failed")
		}
	}

	finishSpan(tickErr)
}
