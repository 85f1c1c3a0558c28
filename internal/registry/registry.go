// Package registry implements the Lab Registry: a process-external
// key/value plus pub/sub view of every known resource, with per-lab
// membership sets and a change event bus. Two backends share the Store
// contract — an in-memory map for tests and single-process runs, and Redis
// for everything else.
package registry

import (
	"context"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/resource"
)

// EventType enumerates the Lab Registry's change event taxonomy.
type EventType string

const (
	EventCreated            EventType = "created"
	EventUpdated            EventType = "updated"
	EventDeleted            EventType = "deleted"
	EventStateChanged       EventType = "state_changed"
	EventDriftDetected      EventType = "drift_detected"
	EventDriftResolved      EventType = "drift_resolved"
	EventReconcileStart     EventType = "reconcile_start"
	EventReconcileComplete  EventType = "reconcile_complete"
	EventReconcileFailed    EventType = "reconcile_failed"
	EventAgentHeartbeat     EventType = "agent_heartbeat"
)

// Event is the envelope published to every subscriber, matching spec.md §6
// verbatim: event_type, resource_id, lab_id?, timestamp, version, data.
type Event struct {
	Type       EventType       `json:"event_type"`
	ResourceID string          `json:"resource_id"`
	LabID      string          `json:"lab_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Version    uint64          `json:"version"`
	Data       resource.Resource `json:"data"`
}

// ChannelAll is the wildcard channel that receives every event.
const ChannelAll = "all"

// ChannelLab returns the channel name scoping events to one lab.
func ChannelLab(labID string) string { return "lab:" + labID }

// ChannelKind returns the channel name scoping events to one resource kind.
func ChannelKind(kind resource.Kind) string { return "kind:" + string(kind) }

// Subscription is a restartable-per-call (not restartable mid-stream)
// handle on a channel's event stream.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Store is the Lab Registry's contract. Every method must be safe for
// concurrent use.
type Store interface {
	// Register upserts resource, emitting Created or Updated, and sets
	// LastSeen to now when r.LastSeen is zero.
	Register(ctx context.Context, r resource.Resource) error

	// MarkMissing transitions identity to StateUnknown if it has not been
	// seen within grace, emitting StateChanged. It is a no-op if the
	// resource is already StateUnknown or was seen within grace.
	MarkMissing(ctx context.Context, id resource.Identity, grace time.Duration) error

	// Get returns the current resource for identity.
	Get(ctx context.Context, id resource.Identity) (resource.Resource, bool, error)

	// Snapshot assembles the current Lab Snapshot's resource set for labID
	// deterministically (sorted by identity string).
	Snapshot(ctx context.Context, labID string) ([]resource.Resource, error)

	// Subscribe hands back a lazy event stream for channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Delete removes identity from the registry, emitting Deleted.
	Delete(ctx context.Context, id resource.Identity) error

	// Publish fans evt out to ChannelAll, its lab channel (if set), and its
	// kind channel. It is how components other than the store itself (the
	// Drift Detector's drift_detected/drift_resolved, a deploy's
	// reconcile_start/reconcile_complete) add events to the same bus.
	Publish(ctx context.Context, evt Event) error
}
