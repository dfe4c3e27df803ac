package eventstore

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore-lab/agentcore/internal/observability"
	metrics "github.com/agentcore-lab/agentcore/pkg/observability"
)

// InstrumentedStore wraps a Store with append metrics and tracing.
// Ping and the outbox are forwarded when the wrapped store supports them.
type InstrumentedStore struct {
	Store
	backend string
}

// Instrument wraps store so every append is counted under backend.
func Instrument(store Store, backend string) *InstrumentedStore {
	return &InstrumentedStore{Store: store, backend: backend}
}

// Unwrap returns the wrapped store.
func (s *InstrumentedStore) Unwrap() Store {
	return s.Store
}

// Append forwards to the wrapped store and records the outcome.
func (s *InstrumentedStore) Append(ctx context.Context, aggregateID string, events []StoredEvent) error {
	ctx, span := observability.StartSpanWithOtel(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("eventstore.backend", s.backend),
			attribute.String("aggregate.id", aggregateID),
			attribute.Int("eventstore.batch_size", len(events)),
		),
	)
	defer span.End()

	start := time.Now()
	err := s.Store.Append(ctx, aggregateID, events)

	result := "ok"
	switch {
	case errors.Is(err, ErrConcurrency):
		result = "conflict"
		span.SetAttributes(attribute.Bool("eventstore.conflict", true))
	case err != nil:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.RecordAppend(s.backend, result, time.Since(start))
	return err
}

// Ping forwards to the wrapped store if it implements Pinger.
func (s *InstrumentedStore) Ping(ctx context.Context) error {
	if p, ok := s.Store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// AsOutbox returns the outbox of store, looking through Instrument wrappers.
func AsOutbox(store Store) (Outbox, bool) {
	for store != nil {
		if o, ok := store.(Outbox); ok {
			return o, true
		}
		w, ok := store.(interface{ Unwrap() Store })
		if !ok {
			return nil, false
		}
		store = w.Unwrap()
	}
	return nil, false
}
