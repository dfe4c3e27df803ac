package session

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a session.
type State string

const (
	StateActive State = "active"
	StateEnded  State = "ended"
)

// DefaultEndReason is used by End when no reason is given.
const DefaultEndReason = "user_requested"

// Session is the aggregate root for a chat session. All mutation goes
// through methods that record a domain event; accessors return copies.
// A Session is not safe for concurrent use; each request rebuilds its own.
type Session struct {
	id        SessionID
	agentID   AgentID
	userID    UserID
	state     State
	createdAt time.Time
	updatedAt time.Time
	messages  []Message
	pending   []DomainEvent
	version   int64
}

// Start begins a new session with a fresh id and one pending SessionStarted.
func Start(agentID AgentID, userID UserID) *Session {
	s := &Session{}
	s.record(SessionStarted{
		eventHeader: newHeader(NewSessionID(), now()),
		AgentID:     agentID,
		UserID:      userID,
	})
	return s
}

// AddMessage appends msg. It fails with ErrSessionNotActive once ended.
func (s *Session) AddMessage(msg Message) error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	s.record(MessageAdded{
		eventHeader: newHeader(s.id, now()),
		Message:     msg.clone(),
	})
	return nil
}

// End terminates the session. An empty reason means DefaultEndReason.
// Ending twice fails with ErrSessionNotActive.
func (s *Session) End(reason string) error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	if reason == "" {
		reason = DefaultEndReason
	}
	s.record(SessionEnded{
		eventHeader: newHeader(s.id, now()),
		Reason:      reason,
	})
	return nil
}

func (s *Session) ensureActive() error {
	if s.state != StateActive {
		return fmt.Errorf("%w: session %s is %s", ErrSessionNotActive, s.id, s.state)
	}
	return nil
}

// record applies a new event and buffers it until the next save.
func (s *Session) record(ev DomainEvent) {
	s.apply(ev)
	s.pending = append(s.pending, ev)
	s.version++
}

// apply mutates state for one event. It is shared by live mutation and
// replay, so both paths produce the same state.
func (s *Session) apply(ev DomainEvent) {
	switch e := ev.(type) {
	case SessionStarted:
		s.id = e.sessionID
		s.agentID = e.AgentID
		s.userID = e.UserID
		s.state = StateActive
		s.createdAt = e.occurredAt
		s.updatedAt = e.occurredAt
	case MessageAdded:
		s.messages = append(s.messages, e.Message)
		s.updatedAt = e.occurredAt
	case SessionEnded:
		s.state = StateEnded
		s.updatedAt = e.occurredAt
	}
}

// Context returns the last limit messages (none when limit <= 0).
func (s *Session) Context(limit int) []Message {
	if limit <= 0 {
		return []Message{}
	}
	start := len(s.messages) - limit
	if start < 0 {
		start = 0
	}
	return cloneMessages(s.messages[start:])
}

// Messages returns a copy of all messages in append order.
func (s *Session) Messages() []Message {
	return cloneMessages(s.messages)
}

// MessageCount returns the number of messages.
func (s *Session) MessageCount() int {
	return len(s.messages)
}

// DomainEvents returns a copy of the events recorded since the last save.
func (s *Session) DomainEvents() []DomainEvent {
	out := make([]DomainEvent, len(s.pending))
	copy(out, s.pending)
	return out
}

// ClearDomainEvents drops the pending events. The repository calls it
// after a successful save.
func (s *Session) ClearDomainEvents() {
	s.pending = nil
}

// Version is the number of events ever applied to this aggregate.
func (s *Session) Version() int64 { return s.version }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// IsActive reports whether the session accepts messages.
func (s *Session) IsActive() bool { return s.state == StateActive }

// ID returns the session id.
func (s *Session) ID() SessionID { return s.id }

// AgentID returns the agent the session talks to.
func (s *Session) AgentID() AgentID { return s.agentID }

// UserID returns the session owner.
func (s *Session) UserID() UserID { return s.userID }

// CreatedAt returns when the session started.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns when the session last changed.
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}
