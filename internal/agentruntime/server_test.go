package agentruntime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-lab/agentcore/pkg/agentport"
	"github.com/agentcore-lab/agentcore/pkg/session"
)

type recordingAgent struct {
	*agentport.MockAgent
	history []session.Message
	err     error
}

func (a *recordingAgent) Execute(ctx context.Context, history []session.Message, instruction string) (*agentport.Response, error) {
	a.history = history
	if a.err != nil {
		return nil, a.err
	}
	return a.MockAgent.Execute(ctx, history, instruction)
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestInvoke(t *testing.T) {
	agent := &recordingAgent{MockAgent: agentport.NewMockAgent()}
	s := NewServer(agent, Info{})

	rec := post(t, s, `{"input":{"prompt":"hi","messages":[`+
		`{"role":"user","content":"earlier"},{"role":"assistant","content":"reply"},`+
		`{"role":"user","content":"  "},{"role":"tool","content":"ignored"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, agent.history, 2)
	assert.Equal(t, session.RoleUser, agent.history[0].Role())
	assert.Equal(t, "reply", agent.history[1].Content().Text())
	assert.Contains(t, rec.Body.String(), `"role":"assistant"`)
	assert.Contains(t, rec.Body.String(), `"timestamp"`)
}

func TestInvokeWithTools(t *testing.T) {
	s := NewServer(agentport.NewMockAgent(), Info{})

	rec := post(t, s, `{"input":{"prompt":"hi","tools":[{"name":"search"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Available tools: 1")
}

func TestInvokeErrors(t *testing.T) {
	failing := &recordingAgent{MockAgent: agentport.NewMockAgent(), err: errors.New("throttled")}

	tests := []struct {
		name  string
		agent agentport.Agent
		body  string
		want  int
	}{
		{"empty prompt", agentport.NewMockAgent(), `{"input":{"prompt":""}}`, http.StatusBadRequest},
		{"malformed body", agentport.NewMockAgent(), `{"input":`, http.StatusBadRequest},
		{"agent failure", failing, `{"input":{"prompt":"hi"}}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, NewServer(tt.agent, Info{}), tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), "detail")
		})
	}
}

func TestPingAndRoot(t *testing.T) {
	e := NewServer(agentport.NewMockAgent(), Info{ModelID: "m1", Region: "us-east-1"}).Echo()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"service":"AgentCore Runtime Agent","provider":"mock","model":"m1","region":"us-east-1","status":"running"}`, rec.Body.String())
}

// The runtime agent provider and this server speak the same contract.
func TestRuntimeAgentRoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewServer(agentport.NewMockAgent(), Info{}).Echo())
	defer srv.Close()

	agent := agentport.NewRuntimeAgent(srv.URL, 5*time.Second)
	content, err := session.NewTextContent("before")
	require.NoError(t, err)

	resp, err := agent.Execute(context.Background(), []session.Message{session.NewUserMessage(content, nil)}, "ping")
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "Your message: ping")
	assert.Equal(t, "agentcore_runtime", resp.Metadata["provider"])
	assert.EqualValues(t, 1, resp.Metadata["context_turns"])

	require.NoError(t, agent.Ping(context.Background()))
}
