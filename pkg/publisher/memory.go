package publisher

import (
	"context"
	"sync"
)

// MemoryPublisher records published events. It is used by tests and in
// development.
type MemoryPublisher struct {
	mu        sync.RWMutex
	published []Envelope
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records one event.
func (m *MemoryPublisher) Publish(ctx context.Context, event any, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, Envelope{Event: event, EventType: eventType})
	return nil
}

// PublishBatch records events in order.
func (m *MemoryPublisher) PublishBatch(ctx context.Context, envelopes []Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, envelopes...)
	return nil
}

// Published returns a copy of everything published so far.
func (m *MemoryPublisher) Published() []Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Envelope, len(m.published))
	copy(out, m.published)
	return out
}

// ByType returns the published events of one type, in publish order.
func (m *MemoryPublisher) ByType(eventType string) []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []any
	for _, env := range m.published {
		if env.EventType == eventType {
			out = append(out, env.Event)
		}
	}
	return out
}

// Clear forgets all recorded events.
func (m *MemoryPublisher) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}
