// Package platform defines the single capability interface every backend
// adapter implements (spec.md §4.1) and the dispatcher that resolves calls
// to the correct adapter instance (spec.md §4.2).
package platform

import (
	"context"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/resource"
)

// CloneSpec describes a request to clone a VM from a template.
type CloneSpec struct {
	RequestID   string // idempotency key; stable across retries
	TemplateRef string
	Name        string
	CPU         int
	MemoryMB    int
	DiskGB      int
	NICs        []resource.NIC
	UserData    string
}

// PowerState enumerates the power transitions set_power accepts.
type PowerState string

const (
	PowerOn    PowerState = "on"
	PowerOff   PowerState = "off"
	PowerReset PowerState = "reset"
)

// Credential is an opaque bundle resolved from the secret oracle and handed
// to exec_command; adapters never log its contents.
type Credential struct {
	Username string
	Secret   []byte
}

// ExecResult is the outcome of exec_command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ResourceVisitor is called once per listed resource; returning false stops
// the listing early. list_resources is lazy, finite, and not restartable
// across reconnects (spec.md §9).
type ResourceVisitor func(resource.Resource) bool

// MACLease is one DHCP/ARP observation: a MAC address currently bound to an
// IP, as seen by the backend's own lease table or ARP cache. Tier 3 discovery
// polling uses these to correlate observed IPs onto NICs the inventory tiers
// already know about (spec.md §4.4).
type MACLease struct {
	MAC        string
	IP         string
	Hostname   string
	ObservedAt time.Time
}

// LeaseVisitor is called once per discovered lease; returning false stops
// the discovery walk early, mirroring ResourceVisitor.
type LeaseVisitor func(MACLease) bool

// Adapter is the uniform capability set every backend implements. Every
// operation must be idempotent where the backend permits it, keyed by the
// caller-supplied RequestID embedded in CloneSpec or the resource identity.
type Adapter interface {
	// BackendKind identifies the adapter family (e.g. "onprem", "cloudcompute",
	// "azurecompute"); BackendInstance identifies this specific configured
	// instance of that family.
	BackendKind() string
	BackendInstance() string

	CloneFromTemplate(ctx context.Context, spec CloneSpec) (nativeID string, err error)
	SetPower(ctx context.Context, nativeID string, state PowerState) error
	WaitForLiveness(ctx context.Context, nativeID string, deadline time.Time) (observedIP string, err error)
	Delete(ctx context.Context, nativeID string, force bool) error
	ListResources(ctx context.Context, kind resource.Kind, visit ResourceVisitor) error
	AttachNetwork(ctx context.Context, nativeID string, vlan int, cidr string) error
	ExecCommand(ctx context.Context, nativeID string, cred Credential, command string) (ExecResult, error)

	// DiscoverLeases walks the backend's current DHCP/ARP observations, if
	// it exposes any. Backends with no lease table of their own (cloud IaaS
	// compute APIs) return nil without visiting anything.
	DiscoverLeases(ctx context.Context, visit LeaseVisitor) error
}
