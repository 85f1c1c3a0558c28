package polling

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/cyberrange/internal/corekit"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/logger"
	"github.com/r3e-network/cyberrange/internal/platform"
	"github.com/r3e-network/cyberrange/internal/registry"
)

// DiscoveryAgent drives Tier 3 (discovery) on the same robfig/cron
// scheduling machinery as CronAgent, but its tick does not list one
// resource.Kind directly: it walks the backend's DHCP/ARP lease table and
// correlates MAC addresses onto the NICs of the VMs the backend's
// ListResources reports, filling in ObservedIP where a NIC's address has
// drifted since
// the last inventory tick (spec.md §4.4). Backends with no lease table
// (DiscoverLeases returning without visiting anything) make this a no-op
// tick, not an error.
type DiscoveryAgent struct {
	tier    Tier
	adapter platform.Adapter
	store   registry.Store
	log     *logger.Logger
	tracer  corekit.Tracer
	spec    string

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewDiscoveryAgent builds a Tier 3 discovery agent. spec is any schedule
// robfig/cron parses, same as CronAgent accepts.
func NewDiscoveryAgent(adapter platform.Adapter, store registry.Store, spec string, log *logger.Logger) *DiscoveryAgent {
	if log == nil {
		log = logger.NewDefault("polling-agent")
	}
	return &DiscoveryAgent{
		tier:    TierDiscovery,
		adapter: adapter,
		store:   store,
		log:     log,
		tracer:  corekit.NoopTracer,
		spec:    spec,
	}
}

// WithTracer installs a tracer for per-tick spans.
func (a *DiscoveryAgent) WithTracer(tracer corekit.Tracer) *DiscoveryAgent {
	if tracer == nil {
		tracer = corekit.NoopTracer
	}
	a.tracer = tracer
	return a
}

// Name identifies this agent for the lifecycle manager.
func (a *DiscoveryAgent) Name() string {
	return "polling-agent:" + a.adapter.BackendKind() + ":" + a.adapter.BackendInstance() + ":" + string(a.tier)
}

// Descriptor advertises this agent's placement to the lifecycle manager.
func (a *DiscoveryAgent) Descriptor() corekit.Descriptor {
	return corekit.Descriptor{
		Name:         a.Name(),
		Layer:        corekit.LayerPolling,
		Capabilities: []string{"discover_leases", "correlate", "register"},
	}
}

// Start registers the cron entry and begins the scheduler's internal
// goroutine. Calling Start on an already-running agent is a no-op.
func (a *DiscoveryAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.ctx = runCtx
	a.cancel = cancel

	logAdapter := cronLogAdapter{log: a.log}
	c := cron.New(cron.WithChain(
		cron.Recover(logAdapter),
		cron.SkipIfStillRunning(logAdapter),
	))
	if _, err := c.AddJob(a.spec, cronJobFunc(func() {
		a.mu.Lock()
		tickCtx := a.ctx
		a.mu.Unlock()
		if tickCtx == nil {
			return
		}
		a.tick(tickCtx)
	})); err != nil {
		cancel()
		a.mu.Unlock()
		return err
	}
	a.cron = c
	a.running = true
	a.mu.Unlock()

	c.Start()
	a.log.WithField("agent", a.Name()).WithField("cron", a.spec).Info("polling agent started")
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight tick to drain.
func (a *DiscoveryAgent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	c := a.cron
	cancel := a.cancel
	a.running = false
	a.mu.Unlock()

	stopCtx := c.Stop()
	cancel()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	a.log.WithField("agent", a.Name()).Info("polling agent stopped")
	return nil
}

// tick discovers the backend's current leases, then re-visits every known
// VM and writes back any NIC whose MAC matches a lease carrying a
// different IP than what the registry already has.
func (a *DiscoveryAgent) tick(ctx context.Context) {
	spanCtx, finishSpan := a.tracer.StartSpan(ctx, "polling.tick", map[string]string{
		"backend_kind":     a.adapter.BackendKind(),
		"backend_instance": a.adapter.BackendInstance(),
		"tier":             string(a.tier),
	})

	leases := make(map[string]platform.MACLease)
	err := a.adapter.DiscoverLeases(spanCtx, func(l platform.MACLease) bool {
		if l.MAC == "" || l.IP == "" {
			return true
		}
		leases[normalizeMAC(l.MAC)] = l
		return true
	})
	if err != nil {
		a.log.WithError(err).WithField("agent", a.Name()).Warn("discover leases failed")
		finishSpan(err)
		return
	}
	if len(leases) == 0 {
		finishSpan(nil)
		return
	}

	var tickErr error
	visitor := func(r resource.Resource) bool {
		select {
		case <-spanCtx.Done():
			tickErr = spanCtx.Err()
			return false
		default:
		}
		if updated, changed := correlateLeases(r, leases); changed {
			if err := a.store.Register(spanCtx, updated); err != nil {
				a.log.WithError(err).WithField("resource", r.Identity.String()).Warn("register correlated resource failed")
			}
		}
		return true
	}

	if err := a.adapter.ListResources(spanCtx, resource.KindVM, visitor); err != nil {
		a.log.WithError(err).WithField("agent", a.Name()).Warn("list resources for correlation failed")
		tickErr = err
	}

	finishSpan(tickErr)
}

// correlateLeases updates r's NICs (and its top-level ObservedIP, taken
// from the first NIC with an observed address) wherever a NIC's MAC
// matches a discovered lease carrying a different IP. It reports whether
// anything changed, so callers only write back resources that drifted.
func correlateLeases(r resource.Resource, leases map[string]platform.MACLease) (resource.Resource, bool) {
	if len(r.Config.NICs) == 0 {
		return r, false
	}

	changed := false
	nics := make([]resource.NIC, len(r.Config.NICs))
	copy(nics, r.Config.NICs)

	for i, nic := range nics {
		if nic.MAC == "" {
			continue
		}
		lease, ok := leases[normalizeMAC(nic.MAC)]
		if !ok || lease.IP == nic.ObservedIP {
			continue
		}
		nics[i].ObservedIP = lease.IP
		changed = true
	}
	if !changed {
		return r, false
	}

	r.Config.NICs = nics
	for _, n := range nics {
		if n.ObservedIP != "" {
			r.Config.ObservedIP = n.ObservedIP
			break
		}
	}
	r.LastSeen = time.Now()
	r.Version++
	return r, true
}

func normalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}
