package polling

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/cyberrange/internal/corekit"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/logger"
	"github.com/r3e-network/cyberrange/internal/platform"
	"github.com/r3e-network/cyberrange/internal/registry"
)

// CronAgent drives a poller on a calendar-style schedule using
// robfig/cron/v3, used for Tier 2 (slow inventory); Tier 3 (discovery)
// runs on DiscoveryAgent, which shares the same scheduling machinery.
// cron.SkipIfStillRunning guarantees a tick
// never overlaps itself, the same guarantee TickerAgent gets from its
// single dispatching goroutine.
type CronAgent struct {
	p    *poller
	spec string

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewCronAgent builds a Tier 2 agent. spec is any schedule robfig/cron
// parses: a five-field cron expression (e.g. "*/2 * * * *" for every two
// minutes) or a descriptor such as the "@every <period>" NewGroup passes
// (see cronSpecForPeriod). grace is the
// missing-resource grace window; since cron periods are irregular,
// callers compute it from the intended nominal period themselves
// (spec.md §4.4 recommends 3x the nominal tick period).
func NewCronAgent(tier Tier, resourceKind resource.Kind, adapter platform.Adapter, store registry.Store, spec string, grace time.Duration, log *logger.Logger) *CronAgent {
	return &CronAgent{
		p:    newPoller(tier, resourceKind, adapter, store, grace, log),
		spec: spec,
	}
}

// WithTracer installs a tracer for per-tick spans.
func (a *CronAgent) WithTracer(tracer corekit.Tracer) *CronAgent {
	if tracer == nil {
		tracer = corekit.NoopTracer
	}
	a.p.tracer = tracer
	return a
}

// Name identifies this agent for the lifecycle manager.
func (a *CronAgent) Name() string { return a.p.name() }

// Descriptor advertises this agent's placement to the lifecycle manager.
func (a *CronAgent) Descriptor() corekit.Descriptor {
	return corekit.Descriptor{
		Name:         a.Name(),
		Layer:        corekit.LayerPolling,
		Capabilities: []string{"list", "register", "mark_missing"},
	}
}

type cronJobFunc func()

func (f cronJobFunc) Run() { f() }

// Start registers the cron entry and begins the scheduler's internal
// goroutine. Calling Start on an already-running agent is a no-op.
func (a *CronAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.ctx = runCtx
	a.cancel = cancel

	logAdapter := cronLogAdapter{log: a.p.log}
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
		a.p.tick(tickCtx)
	})); err != nil {
		cancel()
		a.mu.Unlock()
		return err
	}
	a.cron = c
	a.running = true
	a.mu.Unlock()

	c.Start()
	a.p.log.WithField("agent", a.Name()).WithField("cron", a.spec).Info("polling agent started")
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight tick to drain.
func (a *CronAgent) Stop(ctx context.Context) error {
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

	a.p.log.WithField("agent", a.Name()).Info("polling agent stopped")
	return nil
}

// cronLogAdapter satisfies cron.Logger on top of the control plane's
// logger, so cron's own recovery and skip-if-still-running diagnostics
// flow through the same structured log output as everything else.
type cronLogAdapter struct {
	log *logger.Logger
}

func (l cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithField("keysAndValues", keysAndValues).Info(msg)
}

func (l cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithField("keysAndValues", keysAndValues).Error(msg)
}
