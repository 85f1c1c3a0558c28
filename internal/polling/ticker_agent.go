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

// TickerAgent drives a poller on a fixed interval using time.Ticker,
// matching the teacher's automation.Scheduler exactly. It is used for Tier
// 1 (VM liveness).
type TickerAgent struct {
	p        *poller
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewTickerAgent builds a Tier 1 agent. graceFactor multiplies interval to
// compute the missing-resource grace window (spec.md §4.4 recommends 3x).
func NewTickerAgent(resourceKind resource.Kind, adapter platform.Adapter, store registry.Store, interval time.Duration, graceFactor int, log *logger.Logger) *TickerAgent {
	if graceFactor <= 0 {
		graceFactor = 3
	}
	return &TickerAgent{
		p:        newPoller(TierLiveness, resourceKind, adapter, store, interval*time.Duration(graceFactor), log),
		interval: interval,
	}
}

// WithTracer installs a tracer for per-tick spans.
func (a *TickerAgent) WithTracer(tracer corekit.Tracer) *TickerAgent {
	if tracer == nil {
		tracer = corekit.NoopTracer
	}
	a.p.tracer = tracer
	return a
}

// Name identifies this agent for the lifecycle manager.
func (a *TickerAgent) Name() string { return a.p.name() }

// Descriptor advertises this agent's placement to the lifecycle manager.
func (a *TickerAgent) Descriptor() corekit.Descriptor {
	return corekit.Descriptor{
		Name:         a.Name(),
		Layer:        corekit.LayerPolling,
		Capabilities: []string{"list", "register", "mark_missing"},
	}
}

// Start begins the ticking loop. Calling Start on an already-running
// agent is a no-op, matching the teacher's scheduler.
func (a *TickerAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				a.p.tick(runCtx)
			}
		}
	}()

	a.p.log.WithField("agent", a.Name()).WithField("interval", a.interval).Info("polling agent started")
	return nil
}

// Stop halts the ticking loop and waits for the in-flight tick, if any, to
// finish.
func (a *TickerAgent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	cancel := a.cancel
	a.running = false
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.p.log.WithField("agent", a.Name()).Info("polling agent stopped")
	return nil
}
