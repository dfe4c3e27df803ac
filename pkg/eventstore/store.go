// Package eventstore provides append-only storage for domain events.
// Events are keyed by aggregate id and a dense, monotonically increasing
// version. Appends are guarded by an optimistic concurrency check: a batch
// is accepted only if it starts right after the aggregate's latest version.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Common errors for event store operations.
var (
	// ErrConcurrency is returned when an append loses an optimistic-concurrency race.
	ErrConcurrency = errors.New("concurrency conflict")
	// ErrInvalidBatch is returned when an append batch is malformed.
	ErrInvalidBatch = errors.New("invalid event batch")
	// ErrStorageClosed is returned when operating on a closed store.
	ErrStorageClosed = errors.New("event store is closed")
)

// DefaultTypeQueryLimit caps EventsByType when no limit is given.
const DefaultTypeQueryLimit = 100

// ConcurrencyError describes a failed version precondition.
// It matches ErrConcurrency with errors.Is.
type ConcurrencyError struct {
	AggregateID string
	Expected    int64
	Actual      int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("aggregate %s: expected version %d, but found %d", e.AggregateID, e.Expected, e.Actual)
}

// Unwrap lets errors.Is(err, ErrConcurrency) succeed.
func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrency
}

// StoredEvent is the persisted form of a domain event.
// The JSON shape is stable across backends.
type StoredEvent struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int64           `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Metadata      map[string]any  `json:"metadata"`
}

// TypeQuery filters EventsByType.
type TypeQuery struct {
	// From skips events older than this instant (zero = no bound).
	From time.Time
	// Limit caps the number of results (<= 0 uses DefaultTypeQueryLimit).
	Limit int
}

// EffectiveLimit returns Limit, or DefaultTypeQueryLimit when unset.
func (q TypeQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultTypeQueryLimit
	}
	return q.Limit
}

// Store abstracts event persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds a batch of events for one aggregate. The batch is accepted
	// only if events[0].Version-1 equals the aggregate's latest version;
	// otherwise a *ConcurrencyError is returned and nothing is written.
	Append(ctx context.Context, aggregateID string, events []StoredEvent) error

	// Events returns the aggregate's events with Version >= fromVersion,
	// ascending by version. An unknown aggregate yields an empty slice.
	Events(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error)

	// LatestVersion returns the aggregate's latest version, 0 if it has none.
	LatestVersion(ctx context.Context, aggregateID string) (int64, error)

	// EventsByType scans events of one type across aggregates.
	EventsByType(ctx context.Context, eventType string, q TypeQuery) ([]StoredEvent, error)

	// Close releases any resources held by the store.
	Close() error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OutboxRecord is an event waiting to be relayed to the event bus.
type OutboxRecord struct {
	ID    string      `json:"id"`
	Event StoredEvent `json:"event"`
}

// Outbox is implemented by stores that write outbox records in the same
// atomic operation as the append.
type Outbox interface {
	// PendingOutbox returns up to limit unacknowledged records, oldest first.
	PendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error)
	// AckOutbox removes delivered records.
	AckOutbox(ctx context.Context, ids ...string) error
}

// OutboxID is the record id for an event: one per (aggregate, version).
func OutboxID(ev StoredEvent) string {
	return fmt.Sprintf("%s:%d", ev.AggregateID, ev.Version)
}

// ValidateBatch checks that a batch belongs to aggregateID and has
// contiguous versions starting at >= 1.
func ValidateBatch(aggregateID string, events []StoredEvent) error {
	if aggregateID == "" {
		return fmt.Errorf("%w: empty aggregate id", ErrInvalidBatch)
	}
	for i, ev := range events {
		if ev.AggregateID != aggregateID {
			return fmt.Errorf("%w: event %d belongs to aggregate %q", ErrInvalidBatch, i, ev.AggregateID)
		}
		if ev.Version < 1 {
			return fmt.Errorf("%w: event %d has version %d", ErrInvalidBatch, i, ev.Version)
		}
		if i > 0 && ev.Version != events[i-1].Version+1 {
			return fmt.Errorf("%w: version gap between %d and %d", ErrInvalidBatch, events[i-1].Version, ev.Version)
		}
	}
	return nil
}

// CheckExpected returns a *ConcurrencyError if the batch does not start
// right after current.
func CheckExpected(aggregateID string, events []StoredEvent, current int64) error {
	expected := events[0].Version - 1
	if current != expected {
		return &ConcurrencyError{AggregateID: aggregateID, Expected: expected, Actual: current}
	}
	return nil
}


// SortByTimestamp orders events by timestamp, breaking ties by aggregate id
// and version. EventsByType results use this order so callers can page with
// TypeQuery.From.
func SortByTimestamp(events []StoredEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.AggregateID != b.AggregateID {
			return a.AggregateID < b.AggregateID
		}
		return a.Version < b.Version
	})
}
