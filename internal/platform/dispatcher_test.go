package platform

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/errs"
)

type fakeAdapter struct {
	kind, instance string
}

func (f *fakeAdapter) BackendKind() string     { return f.kind }
func (f *fakeAdapter) BackendInstance() string { return f.instance }
func (f *fakeAdapter) CloneFromTemplate(ctx context.Context, spec CloneSpec) (string, error) {
	return "native-1", nil
}
func (f *fakeAdapter) SetPower(ctx context.Context, nativeID string, state PowerState) error {
	return nil
}
func (f *fakeAdapter) WaitForLiveness(ctx context.Context, nativeID string, deadline time.Time) (string, error) {
	return "10.0.0.5", nil
}
func (f *fakeAdapter) Delete(ctx context.Context, nativeID string, force bool) error { return nil }
func (f *fakeAdapter) ListResources(ctx context.Context, kind resource.Kind, visit ResourceVisitor) error {
	return nil
}
func (f *fakeAdapter) DiscoverLeases(ctx context.Context, visit LeaseVisitor) error {
	return nil
}
func (f *fakeAdapter) AttachNetwork(ctx context.Context, nativeID string, vlan int, cidr string) error {
	return nil
}
func (f *fakeAdapter) ExecCommand(ctx context.Context, nativeID string, cred Credential, command string) (ExecResult, error) {
	return ExecResult{}, nil
}

func TestDispatchResolvesRegisteredAdapter(t *testing.T) {
	d := NewDispatcher()
	a := &fakeAdapter{kind: "onprem", instance: "cluster-a"}
	d.Register(a, 2)

	var resolved Adapter
	err := d.Dispatch(context.Background(), Key{Kind: "onprem", Instance: "cluster-a"}, func(ctx context.Context, got Adapter) error {
		resolved = got
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != Adapter(a) {
		t.Fatalf("expected resolved adapter to be the registered one")
	}
}

func TestDispatchUnknownKeyErrors(t *testing.T) {
	d := NewDispatcher()
	err := d.Dispatch(context.Background(), Key{Kind: "missing", Instance: "x"}, func(ctx context.Context, a Adapter) error {
		return nil
	})
	if errs.KindOf(err) != errs.Internal {
		t.Fatalf("expected Internal error for unknown adapter key, got %v", err)
	}
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	d := NewDispatcher()
	a := &fakeAdapter{kind: "onprem", instance: "cluster-a"}
	d.Register(a, 2)
	key := Key{Kind: "onprem", Instance: "cluster-a"}

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), key, func(ctx context.Context, a Adapter) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxObserved)
					if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxObserved > 2 {
		t.Fatalf("expected at most 2 concurrent dispatches, observed %d", maxObserved)
	}
}

func TestDispatchRespectsDeadline(t *testing.T) {
	d := NewDispatcher()
	a := &fakeAdapter{kind: "onprem", instance: "cluster-a"}
	d.Register(a, 1)
	key := Key{Kind: "onprem", Instance: "cluster-a"}

	block := make(chan struct{})
	go d.Dispatch(context.Background(), key, func(ctx context.Context, a Adapter) error {
		<-block
		return nil
	})
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Dispatch(ctx, key, func(ctx context.Context, a Adapter) error { return nil })
	if errs.KindOf(err) != errs.Timeout {
		t.Fatalf("expected Timeout waiting for slot, got %v", err)
	}
	close(block)
}

func TestDispatchTripsBreakerOnRepeatedBackendUnreachable(t *testing.T) {
	d := NewDispatcher()
	a := &fakeAdapter{kind: "onprem", instance: "cluster-a"}
	d.Register(a, 1)
	key := Key{Kind: "onprem", Instance: "cluster-a"}

	failing := func(ctx context.Context, a Adapter) error {
		return errs.New(errs.BackendUnreachable, "simulated outage")
	}
	for i := 0; i < 5; i++ {
		_ = d.Dispatch(context.Background(), key, failing)
	}

	err := d.Dispatch(context.Background(), key, func(ctx context.Context, a Adapter) error {
		t.Fatal("fn should not run while the breaker is open")
		return nil
	})
	if errs.KindOf(err) != errs.BackendUnreachable {
		t.Fatalf("expected BackendUnreachable from open breaker, got %v", err)
	}
}
