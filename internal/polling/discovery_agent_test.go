package polling

import (
	"context"
	"testing"

	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/logger"
	"github.com/r3e-network/cyberrange/internal/platform"
)

func vmResourceWithNIC(nativeID, mac, observedIP string) resource.Resource {
	r := vmResource(nativeID)
	r.Config.NICs = []resource.NIC{{Name: "eth0", MAC: mac, ObservedIP: observedIP}}
	return r
}

func TestDiscoveryAgentCorrelatesLeaseOntoMatchingNIC(t *testing.T) {
	adapter := &fakeAdapter{kind: "onprem", instance: "cluster-a"}
	adapter.setResources(vmResourceWithNIC("vm-1", "AA:BB:CC:DD:EE:01", "10.0.0.5"))
	adapter.setLeases(platform.MACLease{MAC: "aa:bb:cc:dd:ee:01", IP: "10.0.0.99"})

	store := newFakeStore()
	a := NewDiscoveryAgent(adapter, store, "@every 1h", logger.NewDefault("test"))

	a.tick(context.Background())

	found, ok := store.byID["onprem:cluster-a:vm-1"]
	if !ok {
		t.Fatalf("expected vm-1 registered after correlation")
	}
	if found.Config.ObservedIP != "10.0.0.99" {
		t.Fatalf("expected observed ip updated to lease ip, got %q", found.Config.ObservedIP)
	}
	if found.Config.NICs[0].ObservedIP != "10.0.0.99" {
		t.Fatalf("expected nic observed ip updated, got %q", found.Config.NICs[0].ObservedIP)
	}
}

func TestDiscoveryAgentSkipsResourceWhenLeaseMatchesExistingIP(t *testing.T) {
	adapter := &fakeAdapter{kind: "onprem", instance: "cluster-a"}
	adapter.setResources(vmResourceWithNIC("vm-1", "AA:BB:CC:DD:EE:01", "10.0.0.5"))
	adapter.setLeases(platform.MACLease{MAC: "aa:bb:cc:dd:ee:01", IP: "10.0.0.5"})

	store := newFakeStore()
	a := NewDiscoveryAgent(adapter, store, "@every 1h", logger.NewDefault("test"))

	a.tick(context.Background())

	if len(store.byID) != 0 {
		t.Fatalf("expected no register call when lease matches already-observed ip")
	}
}

func TestDiscoveryAgentNoopWhenBackendHasNoLeases(t *testing.T) {
	adapter := &fakeAdapter{kind: "cloudcompute", instance: "gcp-west"}
	adapter.setResources(vmResourceWithNIC("vm-1", "AA:BB:CC:DD:EE:01", "10.0.0.5"))

	store := newFakeStore()
	a := NewDiscoveryAgent(adapter, store, "@every 1h", logger.NewDefault("test"))

	a.tick(context.Background())

	if len(store.byID) != 0 {
		t.Fatalf("expected no register calls on a backend with no discoverable leases")
	}
}

func TestDiscoveryAgentName(t *testing.T) {
	adapter := &fakeAdapter{kind: "onprem", instance: "cluster-a"}
	a := NewDiscoveryAgent(adapter, newFakeStore(), "@every 1h", logger.NewDefault("test"))
	if a.Name() != "polling-agent:onprem:cluster-a:tier3_discovery" {
		t.Fatalf("unexpected name: %q", a.Name())
	}
}
