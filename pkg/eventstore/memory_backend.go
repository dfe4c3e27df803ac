package eventstore

import (
	"context"
	"sync"
)

// MemoryStore implements Store in process memory.
// It is intended for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]StoredEvent
	byType  map[string][]StoredEvent
	outbox  []OutboxRecord
	opts    options
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		streams: make(map[string][]StoredEvent),
		byType:  make(map[string][]StoredEvent),
		opts:    applyOptions(opts),
	}
}

// Append adds a batch of events for one aggregate.
func (m *MemoryStore) Append(ctx context.Context, aggregateID string, events []StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := ValidateBatch(aggregateID, events); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if err := CheckExpected(aggregateID, events, m.latestUnlocked(aggregateID)); err != nil {
		return err
	}

	for _, ev := range events {
		ev = cloneEvent(ev)
		m.streams[aggregateID] = append(m.streams[aggregateID], ev)
		m.byType[ev.EventType] = append(m.byType[ev.EventType], ev)
		if m.opts.outbox {
			m.outbox = append(m.outbox, OutboxRecord{ID: OutboxID(ev), Event: ev})
		}
	}
	return nil
}

// Events returns the aggregate's events with Version >= fromVersion.
func (m *MemoryStore) Events(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	stream := m.streams[aggregateID]
	out := make([]StoredEvent, 0, len(stream))
	for _, ev := range stream {
		if ev.Version >= fromVersion {
			out = append(out, cloneEvent(ev))
		}
	}
	return out, nil
}

// LatestVersion returns the aggregate's latest version.
func (m *MemoryStore) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return m.latestUnlocked(aggregateID), nil
}

func (m *MemoryStore) latestUnlocked(aggregateID string) int64 {
	stream := m.streams[aggregateID]
	if len(stream) == 0 {
		return 0
	}
	return stream[len(stream)-1].Version
}

// EventsByType returns events of one type ordered by timestamp.
func (m *MemoryStore) EventsByType(ctx context.Context, eventType string, q TypeQuery) ([]StoredEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	matched := make([]StoredEvent, 0)
	for _, ev := range m.byType[eventType] {
		if !q.From.IsZero() && ev.Timestamp.Before(q.From) {
			continue
		}
		matched = append(matched, ev)
	}
	SortByTimestamp(matched)
	if limit := q.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]StoredEvent, len(matched))
	for i, ev := range matched {
		out[i] = cloneEvent(ev)
	}
	return out, nil
}

// PendingOutbox returns up to limit unacknowledged records.
func (m *MemoryStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	n := len(m.outbox)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]OutboxRecord, n)
	copy(out, m.outbox[:n])
	return out, nil
}

// AckOutbox removes delivered records.
func (m *MemoryStore) AckOutbox(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	acked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		acked[id] = struct{}{}
	}
	kept := m.outbox[:0]
	for _, rec := range m.outbox {
		if _, ok := acked[rec.ID]; !ok {
			kept = append(kept, rec)
		}
	}
	m.outbox = kept
	return nil
}

// Ping reports whether the store is open.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStorageClosed
	}
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// cloneEvent copies the mutable parts of an event so callers cannot alias
// stored state.
func cloneEvent(ev StoredEvent) StoredEvent {
	if ev.EventData != nil {
		data := make([]byte, len(ev.EventData))
		copy(data, ev.EventData)
		ev.EventData = data
	}
	if ev.Metadata != nil {
		meta := make(map[string]any, len(ev.Metadata))
		for k, v := range ev.Metadata {
			meta[k] = v
		}
		ev.Metadata = meta
	}
	return ev
}
