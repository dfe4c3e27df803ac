// Package eventstoretest provides a behavioral test suite that every
// eventstore.Store implementation must pass.
package eventstoretest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-lab/agentcore/pkg/eventstore"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) eventstore.Store

// Event builds a StoredEvent for tests.
func Event(aggregateID string, version int64, eventType string, ts time.Time) eventstore.StoredEvent {
	return eventstore.StoredEvent{
		AggregateID:   aggregateID,
		AggregateType: "Session",
		EventType:     eventType,
		EventData:     json.RawMessage(fmt.Sprintf(`{"session_id":%q,"n":%d}`, aggregateID, version)),
		Version:       version,
		Timestamp:     ts,
		Metadata:      map[string]any{"event_id": fmt.Sprintf("%s-%d", aggregateID, version)},
	}
}

// Batch builds versions from..to for one aggregate, one second apart.
func Batch(aggregateID string, from, to int64, base time.Time) []eventstore.StoredEvent {
	events := make([]eventstore.StoredEvent, 0, to-from+1)
	for v := from; v <= to; v++ {
		eventType := "MessageAdded"
		if v == 1 {
			eventType = "SessionStarted"
		}
		events = append(events, Event(aggregateID, v, eventType, base.Add(time.Duration(v)*time.Second)))
	}
	return events
}

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("EmptyStream", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()

		events, err := store.Events(ctx, "missing", 1)
		require.NoError(t, err)
		assert.Empty(t, events)

		v, err := store.LatestVersion(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)
	})

	t.Run("AppendAndRead", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()

		in := Batch("s-1", 1, 3, base)
		require.NoError(t, store.Append(ctx, "s-1", in))

		v, err := store.LatestVersion(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), v)

		out, err := store.Events(ctx, "s-1", 1)
		require.NoError(t, err)
		require.Len(t, out, 3)
		for i := range in {
			assertSameEvent(t, in[i], out[i])
		}

		tail, err := store.Events(ctx, "s-1", 2)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, int64(2), tail[0].Version)
		assert.Equal(t, int64(3), tail[1].Version)
	})

	t.Run("AppendInSeparateBatches", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()

		require.NoError(t, store.Append(ctx, "s-1", Batch("s-1", 1, 1, base)))
		require.NoError(t, store.Append(ctx, "s-1", Batch("s-1", 2, 4, base)))

		out, err := store.Events(ctx, "s-1", 0)
		require.NoError(t, err)
		require.Len(t, out, 4)
		for i, ev := range out {
			assert.Equal(t, int64(i+1), ev.Version)
		}
	})

	t.Run("EmptyBatchIsNoop", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()

		require.NoError(t, store.Append(ctx, "s-1", nil))
		v, err := store.LatestVersion(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)
	})

	t.Run("StaleWriterConflicts", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()

		require.NoError(t, store.Append(ctx, "s-1", Batch("s-1", 1, 3, base)))

		err := store.Append(ctx, "s-1", Batch("s-1", 2, 2, base))
		require.Error(t, err)
		assert.True(t, errors.Is(err, eventstore.ErrConcurrency))

		var conflict *eventstore.ConcurrencyError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, "s-1", conflict.AggregateID)
		assert.Equal(t, int64(1), conflict.Expected)
		assert.Equal(t, int64(3), conflict.Actual)

		v, err := store.LatestVersion(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), v)
	})

	t.Run("GapConflicts", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()

		require.NoError(t, store.Append(ctx, "s-1", Batch("s-1", 1, 2, base)))
		err := store.Append(ctx, "s-1", Batch("s-1", 5, 6, base))
		assert.ErrorIs(t, err, eventstore.ErrConcurrency)

		out, err := store.Events(ctx, "s-1", 1)
		require.NoError(t, err)
		assert.Len(t, out, 2)
	})

	t.Run("InvalidBatchRejected", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()

		gap := []eventstore.StoredEvent{
			Event("s-1", 1, "SessionStarted", base),
			Event("s-1", 3, "MessageAdded", base),
		}
		assert.ErrorIs(t, store.Append(ctx, "s-1", gap), eventstore.ErrInvalidBatch)

		foreign := []eventstore.StoredEvent{Event("other", 1, "SessionStarted", base)}
		assert.ErrorIs(t, store.Append(ctx, "s-1", foreign), eventstore.ErrInvalidBatch)

		v, err := store.LatestVersion(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)
	})

	t.Run("ConcurrentAppendsOneWinner", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		require.NoError(t, store.Append(ctx, "s-1", Batch("s-1", 1, 1, base)))

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
			others    []error
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ev := Event("s-1", 2, "MessageAdded", base.Add(time.Duration(i)*time.Millisecond))
				err := store.Append(ctx, "s-1", []eventstore.StoredEvent{ev})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, eventstore.ErrConcurrency):
					conflicts++
				default:
					others = append(others, err)
				}
			}(i)
		}
		wg.Wait()

		assert.Empty(t, others)
		assert.Equal(t, 1, wins)
		assert.Equal(t, writers-1, conflicts)

		v, err := store.LatestVersion(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	})

	t.Run("EventsByType", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()

		for i, id := range []string{"a", "b", "c"} {
			ev := Event(id, 1, "SessionStarted", base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, store.Append(ctx, id, []eventstore.StoredEvent{ev}))
		}
		require.NoError(t, store.Append(ctx, "a", []eventstore.StoredEvent{
			Event("a", 2, "MessageAdded", base.Add(time.Hour)),
		}))

		all, err := store.EventsByType(ctx, "SessionStarted", eventstore.TypeQuery{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a", "b", "c"}, aggregateIDs(all))

		limited, err := store.EventsByType(ctx, "SessionStarted", eventstore.TypeQuery{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		recent, err := store.EventsByType(ctx, "SessionStarted", eventstore.TypeQuery{From: base.Add(time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, aggregateIDs(recent))

		none, err := store.EventsByType(ctx, "SessionEnded", eventstore.TypeQuery{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("EventsByTypeOrdersByTimestamp", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()

		// Appended newest first.
		for i, id := range []string{"c", "b", "a"} {
			ev := Event(id, 1, "SessionStarted", base.Add(time.Duration(2-i)*time.Minute))
			require.NoError(t, store.Append(ctx, id, []eventstore.StoredEvent{ev}))
		}

		all, err := store.EventsByType(ctx, "SessionStarted", eventstore.TypeQuery{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, aggregateIDs(all))

		first, err := store.EventsByType(ctx, "SessionStarted", eventstore.TypeQuery{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, aggregateIDs(first))

		next, err := store.EventsByType(ctx, "SessionStarted", eventstore.TypeQuery{From: first[1].Timestamp, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, aggregateIDs(next))
	})

	t.Run("ClosedStore", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Close())

		err := store.Append(context.Background(), "s-1", Batch("s-1", 1, 1, base))
		assert.ErrorIs(t, err, eventstore.ErrStorageClosed)
		_, err = store.Events(context.Background(), "s-1", 1)
		assert.ErrorIs(t, err, eventstore.ErrStorageClosed)
	})
}

// RunOutbox checks the transactional outbox of stores created with
// eventstore.WithOutbox.
func RunOutbox(t *testing.T, newStore Factory) {
	t.Helper()
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("RecordsWrittenWithAppend", func(t *testing.T) {
		store := open(t, newStore)
		outbox := mustOutbox(t, store)
		ctx := context.Background()

		require.NoError(t, store.Append(ctx, "s-1", Batch("s-1", 1, 2, base)))

		pending, err := outbox.PendingOutbox(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "s-1:1", pending[0].ID)
		assert.Equal(t, "s-1:2", pending[1].ID)
		assert.Equal(t, "SessionStarted", pending[0].Event.EventType)

		limited, err := outbox.PendingOutbox(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("AckRemovesRecords", func(t *testing.T) {
		store := open(t, newStore)
		outbox := mustOutbox(t, store)
		ctx := context.Background()

		require.NoError(t, store.Append(ctx, "s-1", Batch("s-1", 1, 3, base)))
		require.NoError(t, outbox.AckOutbox(ctx, "s-1:1", "s-1:3"))

		pending, err := outbox.PendingOutbox(ctx, 0)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "s-1:2", pending[0].ID)
	})

	t.Run("FailedAppendWritesNothing", func(t *testing.T) {
		store := open(t, newStore)
		outbox := mustOutbox(t, store)
		ctx := context.Background()

		require.NoError(t, store.Append(ctx, "s-1", Batch("s-1", 1, 1, base)))
		require.NoError(t, outbox.AckOutbox(ctx, "s-1:1"))

		err := store.Append(ctx, "s-1", Batch("s-1", 1, 1, base))
		require.ErrorIs(t, err, eventstore.ErrConcurrency)

		pending, err := outbox.PendingOutbox(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func open(t *testing.T, newStore Factory) eventstore.Store {
	t.Helper()
	store := newStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustOutbox(t *testing.T, store eventstore.Store) eventstore.Outbox {
	t.Helper()
	outbox, ok := eventstore.AsOutbox(store)
	require.True(t, ok, "store does not implement eventstore.Outbox")
	return outbox
}

func assertSameEvent(t *testing.T, want, got eventstore.StoredEvent) {
	t.Helper()
	assert.Equal(t, want.AggregateID, got.AggregateID)
	assert.Equal(t, want.AggregateType, got.AggregateType)
	assert.Equal(t, want.EventType, got.EventType)
	assert.Equal(t, want.Version, got.Version)
	assert.JSONEq(t, string(want.EventData), string(got.EventData))
	assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp %s != %s", want.Timestamp, got.Timestamp)
	assert.Equal(t, want.Metadata, got.Metadata)
}

func aggregateIDs(events []eventstore.StoredEvent) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.AggregateID
	}
	return ids
}
