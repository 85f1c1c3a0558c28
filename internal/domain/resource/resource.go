// Package resource defines the unit of observed infrastructure state: a VM,
// template, network, host, or gateway as seen by a platform adapter and
// recorded in the Lab Registry.
package resource

import "time"

// Kind enumerates the resource kinds the registry tracks.
type Kind string

const (
	KindVM       Kind = "vm"
	KindTemplate Kind = "template"
	KindNetwork  Kind = "network"
	KindHost     Kind = "host"
	KindGateway  Kind = "gateway"
)

// State enumerates the observed lifecycle state of a resource.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StatePaused  State = "paused"
	StateUnknown State = "unknown"
	StateError   State = "error"
)

// Identity is the globally unique key for a resource: which backend kind,
// which instance of that backend, and the backend's own id for the object.
// Identity is immutable once created.
type Identity struct {
	BackendKind     string
	BackendInstance string
	NativeID        string
}

// String renders a stable, human-legible form used as a registry key and in
// log correlation.
func (id Identity) String() string {
	return id.BackendKind + ":" + id.BackendInstance + ":" + id.NativeID
}

// NIC describes one attached network interface.
type NIC struct {
	Name       string
	NetworkID  string
	ObservedIP string
	MAC        string
}

// Disk describes one attached disk.
type Disk struct {
	Name    string
	SizeGB  int
	Storage string
}

// Config is the typed configuration bag carried by every resource.
type Config struct {
	CPU        int
	MemoryMB   int
	Disks      []Disk
	NICs       []NIC
	Tags       map[string]string
	ObservedIP string
	UptimeSec  int64
}

// Resource is the unit of state tracked by the Lab Registry.
type Resource struct {
	Identity  Identity
	Kind      Kind
	State     State
	Name      string
	LabID     string // optional; empty when the resource has no lab membership
	Config    Config
	Version   uint64
	LastSeen  time.Time
	CreatedAt time.Time
}

// IsStale reports whether this resource's last observation is older than
// grace, meaning it is a candidate for transition to StateUnknown. A
// resource already StateUnknown is never stale by definition.
func (r Resource) IsStale(now time.Time, grace time.Duration) bool {
	if r.State == StateUnknown {
		return false
	}
	return now.Sub(r.LastSeen) > grace
}

// WithState returns a copy of r transitioned to the given state at the
// given observation time, bumping the version. State transitions are
// monotonic only in the sense that every transition carries a timestamp;
// callers are responsible for not regressing a terminal teardown.
func (r Resource) WithState(state State, observedAt time.Time) Resource {
	r.State = state
	r.LastSeen = observedAt
	r.Version++
	return r
}
