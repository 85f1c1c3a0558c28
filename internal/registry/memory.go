package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/resource"
)

// MemoryStore is a thread-safe in-memory Store implementation, grounded on
// the teacher's storage.Memory: a mutex-guarded map with copy-on-read
// semantics so callers can never mutate internal state through a returned
// value.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]resource.Resource
	labSets   map[string]map[string]struct{} // labID -> set of identity strings
	subs      map[string][]*memorySubscription
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]resource.Resource),
		labSets:   make(map[string]map[string]struct{}),
		subs:      make(map[string][]*memorySubscription),
	}
}

func (m *MemoryStore) Register(_ context.Context, r resource.Resource) error {
	m.mu.Lock()
	key := r.Identity.String()
	existing, existed := m.resources[key]
	if existed {
		r.Version = existing.Version + 1
		r.CreatedAt = existing.CreatedAt
	} else {
		r.Version = 1
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
	}
	if r.LastSeen.IsZero() {
		r.LastSeen = time.Now()
	}
	m.resources[key] = r
	if r.LabID != "" {
		set, ok := m.labSets[r.LabID]
		if !ok {
			set = make(map[string]struct{})
			m.labSets[r.LabID] = set
		}
		set[key] = struct{}{}
	}
	m.mu.Unlock()

	evtType := EventCreated
	if existed {
		evtType = EventUpdated
	}
	m.publish(Event{Type: evtType, ResourceID: key, LabID: r.LabID, Timestamp: time.Now(), Version: r.Version, Data: r})
	return nil
}

func (m *MemoryStore) MarkMissing(_ context.Context, id resource.Identity, grace time.Duration) error {
	key := id.String()
	m.mu.Lock()
	r, ok := m.resources[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	now := time.Now()
	if !r.IsStale(now, grace) {
		m.mu.Unlock()
		return nil
	}
	r = r.WithState(resource.StateUnknown, now)
	m.resources[key] = r
	m.mu.Unlock()

	m.publish(Event{Type: EventStateChanged, ResourceID: key, LabID: r.LabID, Timestamp: now, Version: r.Version, Data: r})
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id resource.Identity) (resource.Resource, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id.String()]
	return r, ok, nil
}

func (m *MemoryStore) Snapshot(_ context.Context, labID string) ([]resource.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.labSets[labID]
	out := make([]resource.Resource, 0, len(set))
	for key := range set {
		if r, ok := m.resources[key]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.String() < out[j].Identity.String() })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id resource.Identity) error {
	key := id.String()
	m.mu.Lock()
	r, ok := m.resources[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.resources, key)
	if r.LabID != "" {
		if set, ok := m.labSets[r.LabID]; ok {
			delete(set, key)
		}
	}
	m.mu.Unlock()

	m.publish(Event{Type: EventDeleted, ResourceID: key, LabID: r.LabID, Timestamp: time.Now(), Version: r.Version, Data: r})
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		ch:    make(chan Event, 64),
		store: m,
		chan_: channel,
	}
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], sub)
	m.mu.Unlock()
	return sub, nil
}

// Publish delivers evt onto the bus, exactly like the event every other
// Store method emits internally.
func (m *MemoryStore) Publish(_ context.Context, evt Event) error {
	m.publish(evt)
	return nil
}

// publish delivers evt to every subscription on ChannelAll, the resource's
// lab channel, and its kind channel. Delivery never blocks the publisher: a
// subscriber whose buffer is full misses the event, and missed events are
// not redelivered.
func (m *MemoryStore) publish(evt Event) {
	channels := []string{ChannelAll}
	if evt.LabID != "" {
		channels = append(channels, ChannelLab(evt.LabID))
	}
	channels = append(channels, ChannelKind(evt.Data.Kind))

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range channels {
		for _, sub := range m.subs[ch] {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

func (m *MemoryStore) removeSubscription(sub *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[sub.chan_]
	for i, s := range subs {
		if s == sub {
			m.subs[sub.chan_] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

type memorySubscription struct {
	ch      chan Event
	store   *MemoryStore
	chan_   string
	closeOnce sync.Once
}

func (s *memorySubscription) Events() <-chan Event { return s.ch }

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.store.removeSubscription(s)
		close(s.ch)
	})
	return nil
}
