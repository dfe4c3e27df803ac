package session

import (
	"maps"
	"time"
)

// Event type names as persisted in eventstore.StoredEvent.EventType.
const (
	EventTypeSessionStarted = "SessionStarted"
	EventTypeMessageAdded   = "MessageAdded"
	EventTypeSessionEnded   = "SessionEnded"
)

// AggregateType is the aggregate type recorded with every session event.
const AggregateType = "Session"

// DomainEvent is an immutable fact produced by a Session.
type DomainEvent interface {
	EventID() string
	EventType() string
	OccurredAt() time.Time
	SessionID() SessionID
	Metadata() map[string]any
}

type eventHeader struct {
	eventID    string
	sessionID  SessionID
	occurredAt time.Time
	metadata   map[string]any
}

func newHeader(sessionID SessionID, at time.Time) eventHeader {
	return eventHeader{eventID: newID(), sessionID: sessionID, occurredAt: at}
}

func (h eventHeader) EventID() string          { return h.eventID }
func (h eventHeader) SessionID() SessionID     { return h.sessionID }
func (h eventHeader) OccurredAt() time.Time    { return h.occurredAt }
func (h eventHeader) Metadata() map[string]any { return maps.Clone(h.metadata) }

// SessionStarted is always the first event of a session stream.
type SessionStarted struct {
	eventHeader
	AgentID AgentID
	UserID  UserID
}

// EventType implements DomainEvent.
func (SessionStarted) EventType() string { return EventTypeSessionStarted }

// MessageAdded records a message appended to a session. It carries the
// whole message so replay restores tool calls and metadata.
type MessageAdded struct {
	eventHeader
	Message Message
}

// EventType implements DomainEvent.
func (MessageAdded) EventType() string { return EventTypeMessageAdded }

// SessionEnded is terminal for a session stream.
type SessionEnded struct {
	eventHeader
	Reason string
}

// EventType implements DomainEvent.
func (SessionEnded) EventType() string { return EventTypeSessionEnded }
