// Package app holds the command and query handlers that sit between the
// transport layers and the session aggregate.
//
// Command handlers load a session, invoke one aggregate method, save, and
// publish the new events in the order they were produced. A save that loses
// an optimistic-concurrency race is retried from a fresh load, up to a
// bounded number of attempts. Query handlers only read and project.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentcore-lab/agentcore/pkg/agentport"
	"github.com/agentcore-lab/agentcore/pkg/session"
)

// DefaultMaxAttempts bounds command attempts after concurrency conflicts.
const DefaultMaxAttempts = 3

// ContextWindow is the number of recent messages sent to the agent.
const ContextWindow = 10

// Commands.
type (
	StartSession struct {
		AgentID string
		UserID  string
	}

	SendMessage struct {
		SessionID string
		Content   string
		Metadata  map[string]any
	}

	EndSession struct {
		SessionID string
		Reason    string
	}

	ExecuteAgent struct {
		SessionID   string
		Instruction string
		Tools       []agentport.Tool
	}
)

// Queries.
type (
	GetSession struct {
		SessionID string
	}

	GetSessionMessages struct {
		SessionID string
		Limit     int
		Offset    int
	}

	GetActiveSessions struct {
		UserID string
	}

	// GetSessionHistory selects a user's sessions of any state created in
	// [From, To]. Zero bounds are open.
	GetSessionHistory struct {
		UserID string
		From   time.Time
		To     time.Time
		Limit  int
	}
)

// SessionDTO is the read model of a session.
type SessionDTO struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	UserID       string    `json:"user_id"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// MessageDTO is the read model of a message.
type MessageDTO struct {
	ID        string             `json:"id"`
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	ToolCalls []session.ToolCall `json:"tool_calls,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// ExecuteResult is returned by ExecuteAgentHandler.
type ExecuteResult struct {
	MessageID string           `json:"message_id"`
	Content   string           `json:"content"`
	ToolCalls []map[string]any `json:"tool_calls,omitempty"`
	Metadata  map[string]any   `json:"metadata"`
}

// SessionNotFoundError reports a command or query for an unknown session.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// Unwrap lets errors.Is match session.ErrSessionNotFound.
func (e *SessionNotFoundError) Unwrap() error {
	return session.ErrSessionNotFound
}

func load(ctx context.Context, repo session.Repository, id string) (*session.Session, error) {
	s, err := repo.FindByID(ctx, session.SessionID(id))
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, &SessionNotFoundError{SessionID: id}
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func toSessionDTO(s *session.Session) SessionDTO {
	return SessionDTO{
		ID:           string(s.ID()),
		AgentID:      string(s.AgentID()),
		UserID:       string(s.UserID()),
		State:        string(s.State()),
		CreatedAt:    s.CreatedAt(),
		UpdatedAt:    s.UpdatedAt(),
		MessageCount: s.MessageCount(),
	}
}

func toMessageDTO(m session.Message) MessageDTO {
	return MessageDTO{
		ID:        string(m.ID()),
		Role:      string(m.Role()),
		Content:   m.Content().Text(),
		ToolCalls: m.ToolCalls(),
		CreatedAt: m.CreatedAt(),
	}
}
