package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-lab/agentcore/internal/app"
	"github.com/agentcore-lab/agentcore/pkg/agentport"
	"github.com/agentcore-lab/agentcore/pkg/eventstore"
	"github.com/agentcore-lab/agentcore/pkg/publisher"
	"github.com/agentcore-lab/agentcore/pkg/session"
)

func newTestServer(t *testing.T) (*echo.Echo, *publisher.MemoryPublisher) {
	t.Helper()
	repo := session.NewEventSourcedRepository(eventstore.NewMemoryStore(), session.WithUserIndex(session.NewMemoryUserIndex()))
	pub := publisher.NewMemoryPublisher()
	agent := agentport.NewMockAgent()

	e := New(Handlers{
		StartSession:       app.NewStartSessionHandler(repo, pub),
		SendMessage:        app.NewSendMessageHandler(repo, pub, 0),
		EndSession:         app.NewEndSessionHandler(repo, pub, 0),
		ExecuteAgent:       app.NewExecuteAgentHandler(repo, agent, pub, 0),
		GetSession:         app.NewGetSessionHandler(repo),
		GetSessionMessages: app.NewGetSessionMessagesHandler(repo),
		GetActiveSessions:  app.NewGetActiveSessionsHandler(repo),
		GetSessionHistory:  app.NewGetSessionHistoryHandler(repo),
	}, Options{})
	return e, pub
}

func do(t *testing.T, e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createSession(t *testing.T, e *echo.Echo, body string) CreateSessionResponse {
	t.Helper()
	rec := do(t, e, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CreateSessionResponse](t, rec)
}

func TestCreateSession(t *testing.T) {
	e, pub := newTestServer(t)

	created := createSession(t, e, `{"agent_id":"helper","user_id":"u1"}`)
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, "helper", created.AgentID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Len(t, pub.ByType(session.EventTypeSessionStarted), 1)

	defaults := createSession(t, e, "")
	assert.Equal(t, DefaultAgentID, defaults.AgentID)

	rec := do(t, e, http.MethodGet, "/sessions/"+defaults.SessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultUserID, decode[app.SessionDTO](t, rec).UserID)

	rec = do(t, e, http.MethodPost, "/sessions", `{"agent_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationFlow(t *testing.T) {
	e, pub := newTestServer(t)
	created := createSession(t, e, `{"user_id":"u1"}`)
	base := "/sessions/" + created.SessionID

	rec := do(t, e, http.MethodPost, base+"/messages", `{"instruction":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SendInstructionResponse](t, rec)
	assert.NotEmpty(t, resp.ResponseID)
	assert.Contains(t, resp.Content, "hello")
	assert.Equal(t, "mock", resp.Metadata["provider"])
	assert.GreaterOrEqual(t, resp.LatencyMS, int64(0))

	rec = do(t, e, http.MethodPost, base+"/messages",
		`{"instruction":"use tools","tools":[{"name":"search","description":"web search","input_schema":{"type":"object"}}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[SendInstructionResponse](t, rec).Metadata["tools_available"])

	rec = do(t, e, http.MethodGet, base+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[MessageListResponse](t, rec)
	require.Equal(t, 4, list.TotalCount)
	assert.Equal(t, "user", list.Messages[0].Role)
	assert.Equal(t, "hello", list.Messages[0].Content)
	assert.Equal(t, "assistant", list.Messages[1].Role)
	assert.Equal(t, resp.ResponseID, list.Messages[1].ID)

	rec = do(t, e, http.MethodGet, base+"/messages?limit=1&offset=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[MessageListResponse](t, rec)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "use tools", page.Messages[0].Content)

	rec = do(t, e, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[app.SessionDTO](t, rec).MessageCount)

	rec = do(t, e, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, e, http.MethodPost, base+"/messages", `{"instruction":"too late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, e, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Len(t, pub.ByType(session.EventTypeMessageAdded), 4)
	assert.Len(t, pub.ByType(session.EventTypeSessionEnded), 1)
}

func TestErrorMapping(t *testing.T) {
	e, _ := newTestServer(t)
	created := createSession(t, e, "")

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"unknown session", http.MethodGet, "/sessions/missing", "", http.StatusNotFound},
		{"unknown session messages", http.MethodGet, "/sessions/missing/messages", "", http.StatusNotFound},
		{"send to unknown session", http.MethodPost, "/sessions/missing/messages", `{"instruction":"hi"}`, http.StatusNotFound},
		{"end unknown session", http.MethodDelete, "/sessions/missing", "", http.StatusNotFound},
		{"empty instruction", http.MethodPost, "/sessions/" + created.SessionID + "/messages", `{"instruction":"  "}`, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/sessions/" + created.SessionID + "/messages?limit=ten", "", http.StatusBadRequest},
		{"missing user_id", http.MethodGet, "/sessions", "", http.StatusBadRequest},
		{"bad history bound", http.MethodGet, "/users/u1/history?from=yesterday", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, e, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestListingSessions(t *testing.T) {
	e, _ := newTestServer(t)
	first := createSession(t, e, `{"user_id":"u1"}`)
	second := createSession(t, e, `{"user_id":"u1"}`)
	createSession(t, e, `{"user_id":"u2"}`)
	require.Equal(t, http.StatusNoContent, do(t, e, http.MethodDelete, "/sessions/"+first.SessionID, "").Code)

	rec := do(t, e, http.MethodGet, "/sessions?user_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[SessionListResponse](t, rec)
	require.Equal(t, 1, active.TotalCount)
	assert.Equal(t, second.SessionID, active.Sessions[0].ID)

	rec = do(t, e, http.MethodGet, "/users/u1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[SessionListResponse](t, rec)
	assert.Equal(t, 2, history.TotalCount)

	rec = do(t, e, http.MethodGet, "/users/u1/history?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[SessionListResponse](t, rec).TotalCount)

	rec = do(t, e, http.MethodGet, "/users/nobody/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[SessionListResponse](t, rec).TotalCount)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(t, e, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())

	rec = do(t, e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetAgentInfo(t *testing.T) {
	info := AgentInfo{
		AgentType:    "bedrock",
		ModelID:      "us.anthropic.claude-sonnet-4-20250514-v1:0",
		Provider:     "bedrock",
		Capabilities: []string{"chat", "tools", "bedrock_native"},
	}
	e := New(Handlers{}, Options{Agent: info})

	rec := do(t, e, http.MethodGet, "/agents/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, info, decode[AgentInfo](t, rec))

	rec = do(t, New(Handlers{}, Options{}), http.MethodGet, "/agents/info", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no agent configured", decode[errorResponse](t, rec).Error)
}
