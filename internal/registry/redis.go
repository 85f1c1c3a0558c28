package registry

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/errs"
)

// RedisStore implements Store against Redis, realizing the wire protocol
// from spec.md §6: HSET/HGET/DEL for resources, SADD for lab membership,
// PUBLISH/SUBSCRIBE for events.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a RedisStore from a connection URL
// ("redis://host:port/db").
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, "parse redis url", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func resourceKey(id resource.Identity) string { return "resource:" + id.String() }
func labSetKey(labID string) string           { return "lab:" + labID }

func (s *RedisStore) Register(ctx context.Context, r resource.Resource) error {
	key := resourceKey(r.Identity)

	existing, found, err := s.Get(ctx, r.Identity)
	if err != nil {
		return err
	}
	if found {
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

	payload, err := json.Marshal(r)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode resource", err)
	}
	if err := s.client.HSet(ctx, key, "data", payload).Err(); err != nil {
		return errs.Wrap(errs.BackendUnreachable, "hset resource", err)
	}
	if r.LabID != "" {
		if err := s.client.SAdd(ctx, labSetKey(r.LabID), key).Err(); err != nil {
			return errs.Wrap(errs.BackendUnreachable, "sadd lab membership", err)
		}
	}

	evtType := EventCreated
	if found {
		evtType = EventUpdated
	}
	return s.Publish(ctx, Event{Type: evtType, ResourceID: key, LabID: r.LabID, Timestamp: time.Now(), Version: r.Version, Data: r})
}

func (s *RedisStore) MarkMissing(ctx context.Context, id resource.Identity, grace time.Duration) error {
	r, found, err := s.Get(ctx, id)
	if err != nil || !found {
		return err
	}
	now := time.Now()
	if !r.IsStale(now, grace) {
		return nil
	}
	r = r.WithState(resource.StateUnknown, now)

	payload, err := json.Marshal(r)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode resource", err)
	}
	if err := s.client.HSet(ctx, resourceKey(id), "data", payload).Err(); err != nil {
		return errs.Wrap(errs.BackendUnreachable, "hset resource", err)
	}
	return s.Publish(ctx, Event{Type: EventStateChanged, ResourceID: resourceKey(id), LabID: r.LabID, Timestamp: now, Version: r.Version, Data: r})
}

func (s *RedisStore) Get(ctx context.Context, id resource.Identity) (resource.Resource, bool, error) {
	raw, err := s.client.HGet(ctx, resourceKey(id), "data").Result()
	if err == redis.Nil {
		return resource.Resource{}, false, nil
	}
	if err != nil {
		return resource.Resource{}, false, errs.Wrap(errs.BackendUnreachable, "hgetall resource", err)
	}
	var r resource.Resource
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return resource.Resource{}, false, errs.Wrap(errs.Internal, "decode resource", err)
	}
	return r, true, nil
}

func (s *RedisStore) Snapshot(ctx context.Context, labID string) ([]resource.Resource, error) {
	keys, err := s.client.SMembers(ctx, labSetKey(labID)).Result()
	if err != nil {
		return nil, errs.Wrap(errs.BackendUnreachable, "smembers lab set", err)
	}
	sort.Strings(keys)

	out := make([]resource.Resource, 0, len(keys))
	for _, key := range keys {
		raw, err := s.client.HGet(ctx, key, "data").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errs.Wrap(errs.BackendUnreachable, "hget resource", err)
		}
		var r resource.Resource
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, errs.Wrap(errs.Internal, "decode resource", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id resource.Identity) error {
	key := resourceKey(id)
	r, found, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errs.Wrap(errs.BackendUnreachable, "del resource", err)
	}
	if r.LabID != "" {
		if err := s.client.SRem(ctx, labSetKey(r.LabID), key).Err(); err != nil {
			return errs.Wrap(errs.BackendUnreachable, "srem lab membership", err)
		}
	}
	return s.Publish(ctx, Event{Type: EventDeleted, ResourceID: key, LabID: r.LabID, Timestamp: time.Now(), Version: r.Version, Data: r})
}

// Publish delivers evt onto the bus, exactly like the event every other
// Store method emits internally.
func (s *RedisStore) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode event", err)
	}
	channels := []string{ChannelAll, ChannelKind(evt.Data.Kind)}
	if evt.LabID != "" {
		channels = append(channels, ChannelLab(evt.LabID))
	}
	for _, ch := range channels {
		if err := s.client.Publish(ctx, ch, payload).Err(); err != nil {
			return errs.Wrap(errs.BackendUnreachable, "publish event", err)
		}
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, errs.Wrap(errs.BackendUnreachable, "subscribe", err)
	}

	sub := &redisSubscription{pubsub: pubsub, ch: make(chan Event, 64)}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan Event
}

func (s *redisSubscription) pump() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

func (s *redisSubscription) Events() <-chan Event { return s.ch }

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
