package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/agentcore-lab/agentcore/internal/app"
	"github.com/agentcore-lab/agentcore/pkg/agentport"
)

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	AgentID  string         `json:"agent_id"`
	UserID   string         `json:"user_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SendInstructionRequest is the body of POST /sessions/:session_id/messages.
type SendInstructionRequest struct {
	Instruction string           `json:"instruction"`
	Tools       []agentport.Tool `json:"tools,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// SendInstructionResponse is returned by POST /sessions/:session_id/messages.
type SendInstructionResponse struct {
	ResponseID string           `json:"response_id"`
	Content    string           `json:"content"`
	ToolCalls  []map[string]any `json:"tool_calls,omitempty"`
	LatencyMS  int64            `json:"latency_ms"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// SessionListResponse lists sessions.
type SessionListResponse struct {
	Sessions   []app.SessionDTO `json:"sessions"`
	TotalCount int              `json:"total_count"`
}

// MessageListResponse lists messages.
type MessageListResponse struct {
	Messages   []app.MessageDTO `json:"messages"`
	TotalCount int              `json:"total_count"`
}

// CreateSession starts a session.
// POST /sessions
func (h *Handler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := req.validate(); err != nil {
		return badRequest(c, err.Error())
	}
	cmd := app.StartSession{AgentID: req.AgentID, UserID: req.UserID}
	if cmd.AgentID == "" {
		cmd.AgentID = DefaultAgentID
	}
	if cmd.UserID == "" {
		cmd.UserID = DefaultUserID
	}

	id, err := h.h.StartSession.Handle(ctx, cmd)
	if err != nil {
		return fail(c, err)
	}
	dto, err := h.h.GetSession.Handle(ctx, app.GetSession{SessionID: string(id)})
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: dto.ID,
		AgentID:   dto.AgentID,
		CreatedAt: dto.CreatedAt,
	})
}

// ListActiveSessions lists a user's active sessions.
// GET /sessions?user_id=
func (h *Handler) ListActiveSessions(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return badRequest(c, "user_id is required")
	}

	sessions, err := h.h.GetActiveSessions.Handle(c.Request().Context(), app.GetActiveSessions{UserID: userID})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions, TotalCount: len(sessions)})
}

// GetSession returns one session.
// GET /sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	dto, err := h.h.GetSession.Handle(c.Request().Context(), app.GetSession{SessionID: c.Param("session_id")})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

// GetSessionMessages pages through a session's messages.
// GET /sessions/:session_id/messages?limit=&offset=
func (h *Handler) GetSessionMessages(c echo.Context) error {
	limit, err := intParam(c, "limit", app.DefaultMessageLimit)
	if err != nil {
		return badRequest(c, "limit must be an integer")
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return badRequest(c, "offset must be an integer")
	}

	messages, err := h.h.GetSessionMessages.Handle(c.Request().Context(), app.GetSessionMessages{
		SessionID: c.Param("session_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, MessageListResponse{Messages: messages, TotalCount: len(messages)})
}

// SendInstruction records the user's instruction and runs the agent on it.
// POST /sessions/:session_id/messages
func (h *Handler) SendInstruction(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()
	sessionID := c.Param("session_id")

	var req SendInstructionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := req.validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.h.SendMessage.Handle(ctx, app.SendMessage{
		SessionID: sessionID,
		Content:   req.Instruction,
		Metadata:  req.Metadata,
	}); err != nil {
		return fail(c, err)
	}

	result, err := h.h.ExecuteAgent.Handle(ctx, app.ExecuteAgent{
		SessionID:   sessionID,
		Instruction: req.Instruction,
		Tools:       req.Tools,
	})
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, SendInstructionResponse{
		ResponseID: result.MessageID,
		Content:    result.Content,
		ToolCalls:  result.ToolCalls,
		LatencyMS:  time.Since(start).Milliseconds(),
		Metadata:   result.Metadata,
	})
}

// EndSession ends a session.
// DELETE /sessions/:session_id
func (h *Handler) EndSession(c echo.Context) error {
	if err := h.h.EndSession.Handle(c.Request().Context(), app.EndSession{SessionID: c.Param("session_id")}); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetSessionHistory lists a user's sessions of any state, newest first.
// GET /users/:user_id/history?from=&to=&limit=
func (h *Handler) GetSessionHistory(c echo.Context) error {
	q := app.GetSessionHistory{UserID: c.Param("user_id")}

	var err error
	if q.Limit, err = intParam(c, "limit", app.DefaultHistoryLimit); err != nil {
		return badRequest(c, "limit must be an integer")
	}
	if q.From, err = timeParam(c, "from"); err != nil {
		return badRequest(c, "from must be an RFC 3339 timestamp")
	}
	if q.To, err = timeParam(c, "to"); err != nil {
		return badRequest(c, "to must be an RFC 3339 timestamp")
	}

	sessions, err := h.h.GetSessionHistory.Handle(c.Request().Context(), q)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions, TotalCount: len(sessions)})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func timeParam(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
