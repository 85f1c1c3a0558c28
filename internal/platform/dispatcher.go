package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/r3e-network/cyberrange/internal/errs"
	"github.com/r3e-network/cyberrange/internal/resilience"
)

// Key identifies one configured adapter instance.
type Key struct {
	Kind     string
	Instance string
}

// Dispatcher resolves capability calls to the correct adapter instance and
// bounds per-adapter concurrency so one backend can't starve another. It is
// built once at process init and injected as a value into every component
// that dispatches (spec.md §9 — no package-level singleton). Each adapter
// instance also gets its own circuit breaker so a hypervisor cluster or
// cloud region that starts timing out stops being hammered by every
// in-flight clone/poll.
type Dispatcher struct {
	mu       sync.RWMutex
	adapters map[Key]Adapter
	limits   map[Key]chan struct{}
	breakers map[Key]*resilience.CircuitBreaker
}

// NewDispatcher builds an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		adapters: make(map[Key]Adapter),
		limits:   make(map[Key]chan struct{}),
		breakers: make(map[Key]*resilience.CircuitBreaker),
	}
}

// Register adds an adapter instance with a bounded concurrency limit for
// calls dispatched to it.
func (d *Dispatcher) Register(a Adapter, maxConcurrent int) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	key := Key{Kind: a.BackendKind(), Instance: a.BackendInstance()}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[key] = a
	d.limits[key] = make(chan struct{}, maxConcurrent)
	d.breakers[key] = resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig())
}

// Resolve returns the adapter registered for key.
func (d *Dispatcher) Resolve(key Key) (Adapter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.adapters[key]
	if !ok {
		return nil, errs.New(errs.Internal, fmt.Sprintf("no adapter registered for %s/%s", key.Kind, key.Instance))
	}
	return a, nil
}

// Dispatch acquires the adapter's concurrency slot (blocking until either a
// slot frees or ctx's deadline expires), resolves the adapter, and invokes
// fn with it through that adapter's circuit breaker. The slot is released
// before Dispatch returns.
func (d *Dispatcher) Dispatch(ctx context.Context, key Key, fn func(ctx context.Context, a Adapter) error) error {
	a, err := d.Resolve(key)
	if err != nil {
		return err
	}

	d.mu.RLock()
	slot := d.limits[key]
	breaker := d.breakers[key]
	d.mu.RUnlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return errs.Wrap(errs.Timeout, "timed out waiting for adapter concurrency slot", ctx.Err())
	}
	defer func() { <-slot }()

	return breaker.Execute(ctx, func(ctx context.Context) error {
		return fn(ctx, a)
	})
}

// BreakerState reports the circuit breaker state for key, for metrics and
// CLI diagnostics.
func (d *Dispatcher) BreakerState(key Key) resilience.State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if b, ok := d.breakers[key]; ok {
		return b.State()
	}
	return resilience.StateClosed
}

// Keys returns every registered adapter key, for components that need to
// enumerate configured backend instances (e.g. the polling agents).
func (d *Dispatcher) Keys() []Key {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]Key, 0, len(d.adapters))
	for k := range d.adapters {
		keys = append(keys, k)
	}
	return keys
}

// InFlight reports how many calls are currently occupying key's concurrency
// slots, for metrics.
func (d *Dispatcher) InFlight(key Key) int {
	d.mu.RLock()
	slot := d.limits[key]
	d.mu.RUnlock()
	if slot == nil {
		return 0
	}
	return len(slot)
}
