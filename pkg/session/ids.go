// Package session implements the chat session aggregate, its domain events
// and an event-sourced repository that persists sessions as ordered event
// streams in an eventstore.Store and rebuilds them by replay.
package session

import "github.com/google/uuid"

// SessionID identifies a session aggregate.
type SessionID string

// AgentID identifies the agent a session talks to.
type AgentID string

// UserID identifies the user who owns a session.
type UserID string

// MessageID identifies a message within a session.
type MessageID string

func (id SessionID) String() string { return string(id) }
func (id AgentID) String() string   { return string(id) }
func (id UserID) String() string    { return string(id) }
func (id MessageID) String() string { return string(id) }

// NewSessionID returns a fresh, time-ordered session id.
func NewSessionID() SessionID {
	return SessionID(newID())
}

// NewMessageID returns a fresh, time-ordered message id.
func NewMessageID() MessageID {
	return MessageID(newID())
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
