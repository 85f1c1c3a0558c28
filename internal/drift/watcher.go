package drift

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/cyberrange/internal/corekit"
	"github.com/r3e-network/cyberrange/internal/domain/intent"
	"github.com/r3e-network/cyberrange/internal/logger"
	"github.com/r3e-network/cyberrange/internal/registry"
)

// Watcher recomputes drift for one lab whenever the registry reports a
// change on that lab's channel, and on a periodic cron backstop in case an
// event was dropped (the registry drops events past a subscriber's
// buffer and does not redeliver them). One Watcher is created per lab
// intent.
type Watcher struct {
	detector *Detector
	store    registry.Store
	intent   intent.LabIntent
	labCIDR  string
	period   time.Duration
	log      *logger.Logger
	tracer   corekit.Tracer

	mu      sync.Mutex
	cron    *cron.Cron
	sub     registry.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewWatcher builds a Watcher for in, comparing against resources whose
// observed IPs are expected to fall within labCIDR. period is the cron
// backstop interval.
func NewWatcher(detector *Detector, store registry.Store, in intent.LabIntent, labCIDR string, period time.Duration, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewDefault("drift-watcher")
	}
	return &Watcher{
		detector: detector,
		store:    store,
		intent:   in,
		labCIDR:  labCIDR,
		period:   period,
		log:      log,
		tracer:   corekit.NoopTracer,
	}
}

// WithTracer installs a tracer for per-recompute spans.
func (w *Watcher) WithTracer(tracer corekit.Tracer) *Watcher {
	if tracer == nil {
		tracer = corekit.NoopTracer
	}
	w.tracer = tracer
	return w
}

// Name identifies this watcher for the lifecycle manager.
func (w *Watcher) Name() string { return "drift-watcher:" + w.intent.LabID }

// Descriptor advertises this watcher's placement to the lifecycle manager.
func (w *Watcher) Descriptor() corekit.Descriptor {
	return corekit.Descriptor{Name: w.Name(), Layer: corekit.LayerEngine, Capabilities: []string{"compute", "publish"}}
}

// Start subscribes to the lab's event channel and begins the cron
// backstop. Calling Start on an already-running Watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	sub, err := w.store.Subscribe(runCtx, registry.ChannelLab(w.intent.LabID))
	if err != nil {
		cancel()
		w.mu.Unlock()
		return err
	}
	w.sub = sub

	c := cron.New()
	if _, err := c.AddFunc(cronSpecForInterval(w.period), func() { w.recompute(runCtx) }); err != nil {
		cancel()
		_ = sub.Close()
		w.mu.Unlock()
		return err
	}
	w.cron = c
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-sub.Events():
				if !ok {
					return
				}
				if evt.Type == registry.EventDriftDetected || evt.Type == registry.EventDriftResolved {
					continue // avoid recomputing in response to our own output
				}
				w.recompute(runCtx)
			}
		}
	}()

	c.Start()
	w.log.WithField("watcher", w.Name()).Info("drift watcher started")
	return nil
}

// Stop halts the cron backstop and the event-driven loop.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	c := w.cron
	sub := w.sub
	cancel := w.cancel
	w.running = false
	w.mu.Unlock()

	stopCtx := c.Stop()
	cancel()
	_ = sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.log.WithField("watcher", w.Name()).Info("drift watcher stopped")
	return nil
}

func (w *Watcher) recompute(ctx context.Context) {
	spanCtx, finishSpan := w.tracer.StartSpan(ctx, "drift.compute", map[string]string{"lab_id": w.intent.LabID})
	snap, err := w.detector.Compute(spanCtx, w.intent, w.labCIDR)
	if err != nil {
		w.log.WithError(err).WithField("lab_id", w.intent.LabID).Warn("drift recompute failed")
	} else if !snap.Healthy() {
		w.log.WithField("lab_id", w.intent.LabID).WithField("drift_count", len(snap.Drifts)).Debug("lab is drifting")
	}
	finishSpan(err)
}

func cronSpecForInterval(period time.Duration) string {
	if period <= 0 {
		period = time.Minute
	}
	return "@every " + period.String()
}
