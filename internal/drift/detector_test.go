package drift

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/intent"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/domain/snapshot"
	"github.com/r3e-network/cyberrange/internal/registry"
)

func testIntent() intent.LabIntent {
	return intent.LabIntent{
		LabID: "lab-1",
		Nodes: []intent.NodeSpec{
			{Name: "gw", Kind: intent.NodeGateway},
			{Name: "web-1", Kind: intent.NodeVM},
			{Name: "db-1", Kind: intent.NodeVM},
		},
	}
}

func register(t *testing.T, store registry.Store, labID, name string, state resource.State, ip string) {
	t.Helper()
	r := resource.Resource{
		Identity: resource.Identity{BackendKind: "onprem", BackendInstance: "cluster-a", NativeID: name},
		Kind:     resource.KindVM,
		State:    state,
		Name:     name,
		LabID:    labID,
		Config:   resource.Config{ObservedIP: ip},
	}
	if err := store.Register(context.Background(), r); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func TestComputeHealthyWhenEverythingMatches(t *testing.T) {
	store := registry.NewMemoryStore()
	register(t, store, "lab-1", "gw", resource.StateRunning, "10.200.1.1")
	register(t, store, "lab-1", "web-1", resource.StateRunning, "10.200.1.2")
	register(t, store, "lab-1", "db-1", resource.StateRunning, "10.200.1.3")

	d := NewDetector(store)
	snap, err := d.Compute(context.Background(), testIntent(), "10.200.1.0/24")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !snap.Healthy() {
		t.Fatalf("expected healthy snapshot, got drifts: %+v", snap.Drifts)
	}
}

func TestComputeEmitsMissingResource(t *testing.T) {
	store := registry.NewMemoryStore()
	register(t, store, "lab-1", "gw", resource.StateRunning, "10.200.1.1")
	register(t, store, "lab-1", "web-1", resource.StateRunning, "10.200.1.2")
	// db-1 never registered

	d := NewDetector(store)
	snap, err := d.Compute(context.Background(), testIntent(), "10.200.1.0/24")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !hasDrift(snap, snapshot.DriftMissingResource, "db-1") {
		t.Fatalf("expected missing_resource for db-1, got %+v", snap.Drifts)
	}
}

func TestComputeEmitsStateMismatch(t *testing.T) {
	store := registry.NewMemoryStore()
	register(t, store, "lab-1", "gw", resource.StateRunning, "10.200.1.1")
	register(t, store, "lab-1", "web-1", resource.StateStopped, "10.200.1.2")
	register(t, store, "lab-1", "db-1", resource.StateRunning, "10.200.1.3")

	d := NewDetector(store)
	snap, err := d.Compute(context.Background(), testIntent(), "10.200.1.0/24")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !hasDrift(snap, snapshot.DriftStateMismatch, "web-1") {
		t.Fatalf("expected state_mismatch for web-1, got %+v", snap.Drifts)
	}
}

func TestComputeEmitsIPMismatch(t *testing.T) {
	store := registry.NewMemoryStore()
	register(t, store, "lab-1", "gw", resource.StateRunning, "10.200.1.1")
	register(t, store, "lab-1", "web-1", resource.StateRunning, "192.168.1.2")
	register(t, store, "lab-1", "db-1", resource.StateRunning, "10.200.1.3")

	d := NewDetector(store)
	snap, err := d.Compute(context.Background(), testIntent(), "10.200.1.0/24")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !hasDrift(snap, snapshot.DriftIPMismatch, "web-1") {
		t.Fatalf("expected ip_mismatch for web-1, got %+v", snap.Drifts)
	}
}

func TestComputeEmitsExtraResource(t *testing.T) {
	store := registry.NewMemoryStore()
	register(t, store, "lab-1", "gw", resource.StateRunning, "10.200.1.1")
	register(t, store, "lab-1", "web-1", resource.StateRunning, "10.200.1.2")
	register(t, store, "lab-1", "db-1", resource.StateRunning, "10.200.1.3")
	register(t, store, "lab-1", "rogue-vm", resource.StateRunning, "10.200.1.9")

	d := NewDetector(store)
	snap, err := d.Compute(context.Background(), testIntent(), "10.200.1.0/24")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !hasDrift(snap, snapshot.DriftExtraResource, "rogue-vm") {
		t.Fatalf("expected extra_resource for rogue-vm, got %+v", snap.Drifts)
	}
}

func TestComputeEmitsDriftResolvedAfterRecovery(t *testing.T) {
	store := registry.NewMemoryStore()
	sub, err := store.Subscribe(context.Background(), registry.ChannelLab("lab-1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	register(t, store, "lab-1", "gw", resource.StateRunning, "10.200.1.1")
	register(t, store, "lab-1", "web-1", resource.StateStopped, "10.200.1.2")
	register(t, store, "lab-1", "db-1", resource.StateRunning, "10.200.1.3")

	d := NewDetector(store)
	if _, err := d.Compute(context.Background(), testIntent(), "10.200.1.0/24"); err != nil {
		t.Fatalf("first compute: %v", err)
	}

	sawDetected := false
drainLoop:
	for {
		select {
		case evt := <-sub.Events():
			if evt.Type == registry.EventDriftDetected {
				sawDetected = true
			}
		case <-time.After(10 * time.Millisecond):
			break drainLoop
		}
	}
	if !sawDetected {
		t.Fatalf("expected at least one drift_detected event after first compute")
	}

	register(t, store, "lab-1", "web-1", resource.StateRunning, "10.200.1.2")
	if _, err := d.Compute(context.Background(), testIntent(), "10.200.1.0/24"); err != nil {
		t.Fatalf("second compute: %v", err)
	}

	sawResolved := false
drainLoop2:
	for {
		select {
		case evt := <-sub.Events():
			if evt.Type == registry.EventDriftResolved {
				sawResolved = true
			}
		case <-time.After(10 * time.Millisecond):
			break drainLoop2
		}
	}
	if !sawResolved {
		t.Fatalf("expected a drift_resolved event once web-1 recovered")
	}
}

func hasDrift(snap snapshot.LabSnapshot, kind snapshot.DriftKind, node string) bool {
	for _, e := range snap.Drifts {
		if e.Kind == kind && e.NodeName == node {
			return true
		}
	}
	return false
}
