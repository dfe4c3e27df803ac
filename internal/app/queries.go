package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore-lab/agentcore/internal/observability"
	"github.com/agentcore-lab/agentcore/pkg/session"
)

// Default page sizes for message and history queries.
const (
	DefaultMessageLimit = 50
	DefaultHistoryLimit = 20
)

// GetSessionHandler handles GetSession.
type GetSessionHandler struct {
	repo session.Repository
}

// NewGetSessionHandler creates the handler.
func NewGetSessionHandler(repo session.Repository) *GetSessionHandler {
	return &GetSessionHandler{repo: repo}
}

// Handle returns the session projection.
func (h *GetSessionHandler) Handle(ctx context.Context, q GetSession) (*SessionDTO, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, "query.get_session",
		trace.WithAttributes(attribute.String("session.id", q.SessionID)))
	defer span.End()

	s, err := load(ctx, h.repo, q.SessionID)
	if err != nil {
		return nil, err
	}
	dto := toSessionDTO(s)
	return &dto, nil
}

// GetSessionMessagesHandler handles GetSessionMessages.
type GetSessionMessagesHandler struct {
	repo session.Repository
}

// NewGetSessionMessagesHandler creates the handler.
func NewGetSessionMessagesHandler(repo session.Repository) *GetSessionMessagesHandler {
	return &GetSessionMessagesHandler{repo: repo}
}

// Handle returns one page of messages in insertion order.
func (h *GetSessionMessagesHandler) Handle(ctx context.Context, q GetSessionMessages) ([]MessageDTO, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, "query.get_session_messages",
		trace.WithAttributes(attribute.String("session.id", q.SessionID)))
	defer span.End()

	s, err := load(ctx, h.repo, q.SessionID)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	offset := max(q.Offset, 0)

	messages := s.Messages()
	if offset >= len(messages) {
		return []MessageDTO{}, nil
	}
	end := min(offset+limit, len(messages))

	out := make([]MessageDTO, 0, end-offset)
	for _, m := range messages[offset:end] {
		out = append(out, toMessageDTO(m))
	}
	return out, nil
}

// GetActiveSessionsHandler handles GetActiveSessions.
type GetActiveSessionsHandler struct {
	repo session.Repository
}

// NewGetActiveSessionsHandler creates the handler.
func NewGetActiveSessionsHandler(repo session.Repository) *GetActiveSessionsHandler {
	return &GetActiveSessionsHandler{repo: repo}
}

// Handle returns the user's active sessions, oldest first.
func (h *GetActiveSessionsHandler) Handle(ctx context.Context, q GetActiveSessions) ([]SessionDTO, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, "query.get_active_sessions",
		trace.WithAttributes(attribute.String("user.id", q.UserID)))
	defer span.End()

	sessions, err := h.repo.FindActiveByUser(ctx, session.UserID(q.UserID))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionDTO(s))
	}
	return out, nil
}

// GetSessionHistoryHandler handles GetSessionHistory.
type GetSessionHistoryHandler struct {
	repo session.Repository
}

// NewGetSessionHistoryHandler creates the handler.
func NewGetSessionHistoryHandler(repo session.Repository) *GetSessionHistoryHandler {
	return &GetSessionHistoryHandler{repo: repo}
}

// Handle returns up to Limit sessions of any state, newest first.
func (h *GetSessionHistoryHandler) Handle(ctx context.Context, q GetSessionHistory) ([]SessionDTO, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, "query.get_session_history",
		trace.WithAttributes(attribute.String("user.id", q.UserID)))
	defer span.End()

	sessions, err := h.repo.FindByUser(ctx, session.UserID(q.UserID))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	out := make([]SessionDTO, 0, min(limit, len(sessions)))
	for i := len(sessions) - 1; i >= 0 && len(out) < limit; i-- {
		s := sessions[i]
		if !q.From.IsZero() && s.CreatedAt().Before(q.From) {
			continue
		}
		if !q.To.IsZero() && s.CreatedAt().After(q.To) {
			continue
		}
		out = append(out, toSessionDTO(s))
	}
	return out, nil
}
