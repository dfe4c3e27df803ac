package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/agentcore-lab/agentcore/internal/observability"
	"github.com/agentcore-lab/agentcore/pkg/eventstore"
)

// Repository persists and loads Session aggregates.
type Repository interface {
	// Save appends the session's pending events. A session without pending
	// events is a no-op. Conflicts surface as eventstore.ErrConcurrency.
	Save(ctx context.Context, s *Session) error
	// FindByID replays a session. Unknown ids fail with ErrSessionNotFound.
	FindByID(ctx context.Context, id SessionID) (*Session, error)
	// FindActiveByUser returns the user's sessions that are still active.
	FindActiveByUser(ctx context.Context, userID UserID) ([]*Session, error)
	// FindByUser returns all of the user's sessions, in any state.
	FindByUser(ctx context.Context, userID UserID) ([]*Session, error)
	// Delete ends the session with reason "deleted". Events are never removed.
	Delete(ctx context.Context, id SessionID) error
}

// DeleteReason is the end reason recorded by Delete.
const DeleteReason = "deleted"

const (
	defaultReplayConcurrency = 8
	startedScanPageSize      = 500
)

// EventSourcedRepository implements Repository on an eventstore.Store.
type EventSourcedRepository struct {
	store             eventstore.Store
	index             UserIndex
	replayConcurrency int
}

// RepositoryOption configures an EventSourcedRepository.
type RepositoryOption func(*EventSourcedRepository)

// WithUserIndex maintains and queries idx instead of scanning
// SessionStarted events.
func WithUserIndex(idx UserIndex) RepositoryOption {
	return func(r *EventSourcedRepository) {
		r.index = idx
	}
}

// WithReplayConcurrency bounds parallel replays in user lookups.
func WithReplayConcurrency(n int) RepositoryOption {
	return func(r *EventSourcedRepository) {
		if n > 0 {
			r.replayConcurrency = n
		}
	}
}

// NewEventSourcedRepository creates a repository backed by store.
func NewEventSourcedRepository(store eventstore.Store, opts ...RepositoryOption) *EventSourcedRepository {
	r := &EventSourcedRepository{
		store:             store,
		replayConcurrency: defaultReplayConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save implements Repository.
func (r *EventSourcedRepository) Save(ctx context.Context, s *Session) error {
	pending := s.DomainEvents()
	if len(pending) == 0 {
		return nil
	}

	ctx, span := observability.StartSpanWithOtel(ctx, "session.save",
		trace.WithAttributes(
			attribute.String("session.id", string(s.ID())),
			attribute.Int("session.pending_events", len(pending)),
		),
	)
	defer span.End()

	base := s.Version() - int64(len(pending))
	stored := make([]eventstore.StoredEvent, len(pending))
	startsSession := false
	for i, ev := range pending {
		se, err := ToStored(ev, base+int64(i)+1)
		if err != nil {
			return err
		}
		stored[i] = se
		if ev.EventType() == EventTypeSessionStarted {
			startsSession = true
		}
	}

	if err := r.store.Append(ctx, string(s.ID()), stored); err != nil {
		span.RecordError(err)
		return err
	}
	s.ClearDomainEvents()

	if startsSession && r.index != nil {
		if err := r.index.Add(ctx, s.UserID(), s.ID()); err != nil {
			// The stream is the source of truth; RebuildUserIndex repairs this.
			log.Printf("[session] index session %s for user %s: %v", s.ID(), s.UserID(), err)
		}
	}
	return nil
}

// FindByID implements Repository.
func (r *EventSourcedRepository) FindByID(ctx context.Context, id SessionID) (*Session, error) {
	events, err := r.store.Events(ctx, string(id), 1)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return Rebuild(events)
}

// Rebuild replays a stored stream into a Session. Events are applied in
// ascending version order and versions must be dense from 1.
func Rebuild(events []eventstore.StoredEvent) (*Session, error) {
	if len(events) == 0 {
		return nil, ErrSessionNotFound
	}
	ordered := make([]eventstore.StoredEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	s := &Session{}
	for i, se := range ordered {
		if se.Version != int64(i+1) {
			return nil, fmt.Errorf("%w: %s has version %d at position %d", ErrCorruptStream, se.AggregateID, se.Version, i+1)
		}
		ev, err := DecodeEvent(se)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptStream, err)
		}
		_, started := ev.(SessionStarted)
		if (i == 0) != started {
			return nil, fmt.Errorf("%w: %s has %s at version %d", ErrCorruptStream, se.AggregateID, se.EventType, se.Version)
		}
		s.apply(ev)
		s.version = se.Version
	}
	return s, nil
}

// FindActiveByUser implements Repository.
func (r *EventSourcedRepository) FindActiveByUser(ctx context.Context, userID UserID) ([]*Session, error) {
	return r.findByUser(ctx, userID, true)
}

// FindByUser implements Repository.
func (r *EventSourcedRepository) FindByUser(ctx context.Context, userID UserID) ([]*Session, error) {
	return r.findByUser(ctx, userID, false)
}

func (r *EventSourcedRepository) findByUser(ctx context.Context, userID UserID, activeOnly bool) ([]*Session, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, "session.find_by_user",
		trace.WithAttributes(
			attribute.String("user.id", string(userID)),
			attribute.Bool("session.active_only", activeOnly),
			attribute.Bool("session.indexed", r.index != nil),
		),
	)
	defer span.End()

	ids, err := r.sessionIDsForUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	found := make([]*Session, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.replayConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			s, err := r.FindByID(gctx, id)
			if errors.Is(err, ErrSessionNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	sessions := make([]*Session, 0, len(found))
	for _, s := range found {
		if s == nil || s.UserID() != userID {
			continue
		}
		if activeOnly && !s.IsActive() {
			continue
		}
		sessions = append(sessions, s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt().Before(sessions[j].CreatedAt())
	})
	return sessions, nil
}

func (r *EventSourcedRepository) sessionIDsForUser(ctx context.Context, userID UserID) ([]SessionID, error) {
	if r.index != nil {
		ids, err := r.index.SessionIDs(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read user index: %w", err)
		}
		return ids, nil
	}

	var ids []SessionID
	err := r.scanStarted(ctx, func(started sessionStartedPayload) error {
		if UserID(started.UserID) == userID {
			ids = append(ids, SessionID(started.SessionID))
		}
		return nil
	})
	return ids, err
}

// scanStarted pages through every SessionStarted event, calling fn once per
// session.
func (r *EventSourcedRepository) scanStarted(ctx context.Context, fn func(sessionStartedPayload) error) error {
	seen := make(map[string]struct{})
	q := eventstore.TypeQuery{Limit: startedScanPageSize}
	for {
		page, err := r.store.EventsByType(ctx, EventTypeSessionStarted, q)
		if err != nil {
			return fmt.Errorf("scan %s events: %w", EventTypeSessionStarted, err)
		}

		fresh := 0
		for _, se := range page {
			if _, ok := seen[se.AggregateID]; ok {
				continue
			}
			seen[se.AggregateID] = struct{}{}
			fresh++

			var p sessionStartedPayload
			if err := json.Unmarshal(se.EventData, &p); err != nil {
				return fmt.Errorf("unmarshal %s: %w", EventTypeSessionStarted, err)
			}
			if p.SessionID == "" {
				p.SessionID = se.AggregateID
			}
			if err := fn(p); err != nil {
				return err
			}
		}

		if len(page) < q.Limit || fresh == 0 {
			return nil
		}
		q.From = page[len(page)-1].Timestamp
	}
}

// Delete implements Repository.
func (r *EventSourcedRepository) Delete(ctx context.Context, id SessionID) error {
	s, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.IsActive() {
		return nil
	}
	if err := s.End(DeleteReason); err != nil {
		return err
	}
	return r.Save(ctx, s)
}

// RebuildUserIndex repopulates the user index from SessionStarted events and
// returns the number of sessions indexed.
func (r *EventSourcedRepository) RebuildUserIndex(ctx context.Context) (int, error) {
	if r.index == nil {
		return 0, errors.New("repository has no user index")
	}

	n := 0
	err := r.scanStarted(ctx, func(p sessionStartedPayload) error {
		if err := r.index.Add(ctx, UserID(p.UserID), SessionID(p.SessionID)); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	log.Printf("[session] rebuilt user index: %d sessions", n)
	return n, nil
}
