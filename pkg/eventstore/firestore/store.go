// Package firestore implements eventstore.Store on Google Cloud Firestore.
//
// Each event is one document in a single collection with the id
// "<aggregate-id>#<zero-padded version>". Appends run in a transaction that
// reads the aggregate's latest version and creates the new documents; a
// competing writer makes Create fail with AlreadyExists (or the transaction
// abort), which is reported as an *eventstore.ConcurrencyError.
//
// Queries need two composite indexes on the collection:
// (aggregate_id ASC, version ASC) and (event_type ASC, timestamp ASC).
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agentcore-lab/agentcore/pkg/eventstore"
)

// DefaultCollection is the collection used when Config.Collection is empty.
const DefaultCollection = "events"

// Config contains configuration for the Firestore event store.
type Config struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

// document is the Firestore representation of a stored event.
type document struct {
	AggregateID   string         `firestore:"aggregate_id"`
	AggregateType string         `firestore:"aggregate_type"`
	EventType     string         `firestore:"event_type"`
	EventData     string         `firestore:"event_data"`
	Version       int64          `firestore:"version"`
	Timestamp     time.Time      `firestore:"timestamp"`
	Metadata      map[string]any `firestore:"metadata"`
}

// Store implements eventstore.Store using Firestore.
type Store struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
	mu     sync.RWMutex
	closed bool
}

// New creates a Firestore event store.
// Without a credentials file, Application Default Credentials are used.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return NewFromClient(client, cfg.Collection), nil
}

// NewFromClient creates a store from an existing client.
func NewFromClient(client *firestore.Client, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{
		client: client,
		coll:   client.Collection(collection),
	}
}

// DocID returns the document id for an aggregate version.
func DocID(aggregateID string, version int64) string {
	return fmt.Sprintf("%s#%010d", aggregateID, version)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return eventstore.ErrStorageClosed
	}
	return nil
}

// Append adds a batch of events for one aggregate.
func (s *Store) Append(ctx context.Context, aggregateID string, events []eventstore.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := eventstore.ValidateBatch(aggregateID, events); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	docs := make([]document, len(events))
	for i, ev := range events {
		docs[i] = toDocument(ev)
	}

	var current int64
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		latest, err := s.latestIn(ctx, tx, aggregateID)
		if err != nil {
			return err
		}
		current = latest
		if err := eventstore.CheckExpected(aggregateID, events, latest); err != nil {
			return err
		}
		for _, d := range docs {
			if err := tx.Create(s.coll.Doc(DocID(aggregateID, d.Version)), d); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var conflict *eventstore.ConcurrencyError
	if errors.As(err, &conflict) {
		return err
	}
	switch status.Code(err) {
	case codes.AlreadyExists, codes.Aborted:
		return &eventstore.ConcurrencyError{AggregateID: aggregateID, Expected: events[0].Version - 1, Actual: current}
	}
	return fmt.Errorf("append events: %w", err)
}

func (s *Store) latestIn(ctx context.Context, tx *firestore.Transaction, aggregateID string) (int64, error) {
	q := s.coll.Where("aggregate_id", "==", aggregateID).OrderBy("version", firestore.Desc).Limit(1)
	iter := tx.Documents(q)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read latest version: %w", err)
	}
	var d document
	if err := snap.DataTo(&d); err != nil {
		return 0, fmt.Errorf("decode event document: %w", err)
	}
	return d.Version, nil
}

// Events returns the aggregate's events with Version >= fromVersion.
func (s *Store) Events(ctx context.Context, aggregateID string, fromVersion int64) ([]eventstore.StoredEvent, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	q := s.coll.Where("aggregate_id", "==", aggregateID).
		Where("version", ">=", fromVersion).
		OrderBy("version", firestore.Asc)
	return collect(q.Documents(ctx))
}

// LatestVersion returns the aggregate's latest version.
func (s *Store) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	q := s.coll.Where("aggregate_id", "==", aggregateID).OrderBy("version", firestore.Desc).Limit(1)
	events, err := collect(q.Documents(ctx))
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[0].Version, nil
}

// EventsByType returns events of one type ordered by timestamp.
func (s *Store) EventsByType(ctx context.Context, eventType string, tq eventstore.TypeQuery) ([]eventstore.StoredEvent, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	q := s.coll.Where("event_type", "==", eventType)
	if !tq.From.IsZero() {
		q = q.Where("timestamp", ">=", tq.From)
	}
	q = q.OrderBy("timestamp", firestore.Asc).Limit(tq.EffectiveLimit())
	return collect(q.Documents(ctx))
}

// Ping performs a minimal read against the collection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	iter := s.coll.Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

// Close closes the Firestore client.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func collect(iter *firestore.DocumentIterator) ([]eventstore.StoredEvent, error) {
	defer iter.Stop()

	events := make([]eventstore.StoredEvent, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate documents: %w", err)
		}
		var d document
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("decode event document %s: %w", snap.Ref.ID, err)
		}
		events = append(events, fromDocument(d))
	}
	return events, nil
}

func toDocument(ev eventstore.StoredEvent) document {
	return document{
		AggregateID:   ev.AggregateID,
		AggregateType: ev.AggregateType,
		EventType:     ev.EventType,
		EventData:     string(ev.EventData),
		Version:       ev.Version,
		Timestamp:     ev.Timestamp.UTC(),
		Metadata:      ev.Metadata,
	}
}

func fromDocument(d document) eventstore.StoredEvent {
	return eventstore.StoredEvent{
		AggregateID:   d.AggregateID,
		AggregateType: d.AggregateType,
		EventType:     d.EventType,
		EventData:     json.RawMessage(d.EventData),
		Version:       d.Version,
		Timestamp:     d.Timestamp.UTC(),
		Metadata:      d.Metadata,
	}
}
