package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"vinefeed-server/internal/types"
)

// EventStore is a read-through/write-through store for raw events keyed by
// event ID, backed by a CacheBackend. Lookups tolerate partial hits; backend
// failures degrade to a miss rather than an error so callers can always fall
// back to the relay.
type EventStore struct {
	backend CacheBackend
	ttl     time.Duration
}

// NewEventStore creates an event store over the given backend.
func NewEventStore(backend CacheBackend, ttl time.Duration) *EventStore {
	return &EventStore{backend: backend, ttl: ttl}
}

func eventKey(id string) string {
	return "event:" + id
}

// GetEventsByIDs returns whichever of the requested events are cached.
// Missing IDs are simply absent from the result.
func (s *EventStore) GetEventsByIDs(ctx context.Context, ids []string) ([]types.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = eventKey(id)
	}

	found, err := s.backend.GetMultiple(ctx, keys)
	if err != nil {
		slog.Debug("event store get error", "error", err)
		return nil, nil
	}

	events := make([]types.Event, 0, len(found))
	for _, id := range ids {
		data, ok := found[eventKey(id)]
		if !ok {
			continue
		}
		var cached types.CachedEvent
		if err := json.Unmarshal(data, &cached); err != nil {
			slog.Debug("event store unmarshal error", "event_id", id, "error", err)
			continue
		}
		events = append(events, cached.Event)
	}
	return events, nil
}

// SaveEventsBatch persists a batch of events. Serialization failures skip the
// offending event; backend failures are logged and swallowed.
func (s *EventStore) SaveEventsBatch(ctx context.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}

	now := time.Now().Unix()
	items := make(map[string][]byte, len(events))
	for _, evt := range events {
		if evt.ID == "" {
			continue
		}
		data, err := json.Marshal(types.CachedEvent{Event: evt, CachedAt: now})
		if err != nil {
			slog.Debug("event store marshal error", "event_id", evt.ID, "error", err)
			continue
		}
		items[eventKey(evt.ID)] = data
	}

	if err := s.backend.SetMultiple(ctx, items, s.ttl); err != nil {
		slog.Debug("event store set error", "count", len(items), "error", err)
	}
	return nil
}
