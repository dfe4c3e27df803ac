package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-lab/agentcore/pkg/agentport"
	"github.com/agentcore-lab/agentcore/pkg/eventstore"
	"github.com/agentcore-lab/agentcore/pkg/publisher"
	"github.com/agentcore-lab/agentcore/pkg/session"
)

type fixture struct {
	repo *session.EventSourcedRepository
	pub  *publisher.MemoryPublisher
}

func newFixture() fixture {
	store := eventstore.NewMemoryStore()
	return fixture{
		repo: session.NewEventSourcedRepository(store, session.WithUserIndex(session.NewMemoryUserIndex())),
		pub:  publisher.NewMemoryPublisher(),
	}
}

func (f fixture) start(t *testing.T, userID string) string {
	t.Helper()
	id, err := NewStartSessionHandler(f.repo, f.pub).Handle(context.Background(), StartSession{AgentID: "agent-1", UserID: userID})
	require.NoError(t, err)
	return string(id)
}

func publishedTypes(pub *publisher.MemoryPublisher) []string {
	var types []string
	for _, env := range pub.Published() {
		types = append(types, env.EventType)
	}
	return types
}

// racingRepository lets another writer append a message right before the
// first Save, so that Save loses the race once.
type racingRepository struct {
	*session.EventSourcedRepository
	raced atomic.Bool
}

func (r *racingRepository) Save(ctx context.Context, s *session.Session) error {
	if !r.raced.Swap(true) {
		other, err := r.EventSourcedRepository.FindByID(ctx, s.ID())
		if err != nil {
			return err
		}
		content, _ := session.NewTextContent("from another writer")
		if err := other.AddMessage(session.NewUserMessage(content, nil)); err != nil {
			return err
		}
		if err := r.EventSourcedRepository.Save(ctx, other); err != nil {
			return err
		}
	}
	return r.EventSourcedRepository.Save(ctx, s)
}

// alwaysConflicting fails every Save with a concurrency error.
type alwaysConflicting struct {
	*session.EventSourcedRepository
	saves atomic.Int32
}

func (r *alwaysConflicting) Save(ctx context.Context, s *session.Session) error {
	r.saves.Add(1)
	return fmt.Errorf("append events: %w", &eventstore.ConcurrencyError{AggregateID: string(s.ID()), Expected: s.Version(), Actual: s.Version() + 1})
}

type countingAgent struct {
	*agentport.MockAgent
	calls atomic.Int32
}

func (a *countingAgent) Execute(ctx context.Context, history []session.Message, instruction string) (*agentport.Response, error) {
	a.calls.Add(1)
	return a.MockAgent.Execute(ctx, history, instruction)
}

type scriptedAgent struct {
	*agentport.MockAgent
	resp *agentport.Response
	err  error
}

func (a scriptedAgent) Execute(ctx context.Context, history []session.Message, instruction string) (*agentport.Response, error) {
	return a.resp, a.err
}

func TestStartSession(t *testing.T) {
	f := newFixture()
	id := f.start(t, "user-1")

	s, err := f.repo.FindByID(context.Background(), session.SessionID(id))
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Version())
	assert.Equal(t, session.AgentID("agent-1"), s.AgentID())
	assert.True(t, s.IsActive())
	assert.Equal(t, []string{session.EventTypeSessionStarted}, publishedTypes(f.pub))
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.start(t, "user-1")

	msgID, err := NewSendMessageHandler(f.repo, f.pub, 0).Handle(ctx, SendMessage{
		SessionID: id,
		Content:   "hello",
		Metadata:  map[string]any{"source": "test"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	messages, err := NewGetSessionMessagesHandler(f.repo).Handle(ctx, GetSessionMessages{SessionID: id})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, string(msgID), messages[0].ID)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content)

	assert.Equal(t, []string{session.EventTypeSessionStarted, session.EventTypeMessageAdded}, publishedTypes(f.pub))
}

func TestSendMessageErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	h := NewSendMessageHandler(f.repo, f.pub, 0)

	_, err := h.Handle(ctx, SendMessage{SessionID: "missing", Content: "hi"})
	var notFound *SessionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.SessionID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	id := f.start(t, "user-1")
	_, err = h.Handle(ctx, SendMessage{SessionID: id, Content: "   "})
	assert.ErrorIs(t, err, session.ErrEmptyContent)

	require.NoError(t, NewEndSessionHandler(f.repo, f.pub, 0).Handle(ctx, EndSession{SessionID: id}))
	_, err = h.Handle(ctx, SendMessage{SessionID: id, Content: "late"})
	assert.ErrorIs(t, err, session.ErrSessionNotActive)
}

func TestSendMessageRetriesConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.start(t, "user-1")
	racing := &racingRepository{EventSourcedRepository: f.repo}

	_, err := NewSendMessageHandler(racing, f.pub, 3).Handle(ctx, SendMessage{SessionID: id, Content: "mine"})
	require.NoError(t, err)

	s, err := f.repo.FindByID(ctx, session.SessionID(id))
	require.NoError(t, err)
	require.Equal(t, 2, s.MessageCount())
	msgs := s.Messages()
	assert.Equal(t, "from another writer", msgs[0].Content().Text())
	assert.Equal(t, "mine", msgs[1].Content().Text())
	assert.Equal(t, int64(3), s.Version())

	// only the winning attempt is published
	assert.Len(t, f.pub.ByType(session.EventTypeMessageAdded), 1)
}

func TestRetryGivesUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.start(t, "user-1")
	repo := &alwaysConflicting{EventSourcedRepository: f.repo}

	_, err := NewSendMessageHandler(repo, f.pub, 2).Handle(ctx, SendMessage{SessionID: id, Content: "x"})
	assert.ErrorIs(t, err, eventstore.ErrConcurrency)
	assert.Equal(t, int32(2), repo.saves.Load())

	repo.saves.Store(0)
	err = NewEndSessionHandler(repo, f.pub, 0).Handle(ctx, EndSession{SessionID: id})
	assert.ErrorIs(t, err, eventstore.ErrConcurrency)
	assert.Equal(t, int32(DefaultMaxAttempts), repo.saves.Load())
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.start(t, "user-1")
	h := NewEndSessionHandler(f.repo, f.pub, 0)

	require.NoError(t, h.Handle(ctx, EndSession{SessionID: id, Reason: "done"}))
	assert.ErrorIs(t, h.Handle(ctx, EndSession{SessionID: id}), session.ErrSessionNotActive)
	assert.ErrorIs(t, h.Handle(ctx, EndSession{SessionID: "missing"}), session.ErrSessionNotFound)

	ended := f.pub.ByType(session.EventTypeSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "done", ended[0].(session.SessionEnded).Reason)

	dto, err := NewGetSessionHandler(f.repo).Handle(ctx, GetSession{SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, string(session.StateEnded), dto.State)
}

func TestExecuteAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.start(t, "user-1")
	_, err := NewSendMessageHandler(f.repo, f.pub, 0).Handle(ctx, SendMessage{SessionID: id, Content: "what time is it?"})
	require.NoError(t, err)

	h := NewExecuteAgentHandler(f.repo, agentport.NewMockAgent(), f.pub, 0)
	res, err := h.Handle(ctx, ExecuteAgent{SessionID: id, Instruction: "what time is it?"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "what time is it?")
	assert.Equal(t, "mock", res.Metadata["provider"])
	assert.Equal(t, 1, res.Metadata["context_turns"])

	s, err := f.repo.FindByID(ctx, session.SessionID(id))
	require.NoError(t, err)
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	last := msgs[1]
	assert.Equal(t, res.MessageID, string(last.ID()))
	assert.Equal(t, session.RoleAssistant, last.Role())
	assert.Equal(t, "mock", last.Metadata()["provider"])

	withTools, err := h.Handle(ctx, ExecuteAgent{
		SessionID:   id,
		Instruction: "use a tool",
		Tools:       []agentport.Tool{{Name: "clock", Description: "tells the time"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, withTools.Metadata["tools_available"])
}

func TestExecuteAgentKeepsToolCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.start(t, "user-1")

	agent := scriptedAgent{MockAgent: agentport.NewMockAgent(), resp: &agentport.Response{
		ToolCalls: []map[string]any{{"tool_id": "t1", "name": "clock", "params": map[string]any{"tz": "UTC"}}},
		Metadata:  map[string]any{"stop_reason": "tool_use"},
	}}
	res, err := NewExecuteAgentHandler(f.repo, agent, f.pub, 0).Handle(ctx, ExecuteAgent{SessionID: id, Instruction: "time?"})
	require.NoError(t, err)
	assert.Len(t, res.ToolCalls, 1)

	s, err := f.repo.FindByID(ctx, session.SessionID(id))
	require.NoError(t, err)
	msg := s.Messages()[0]
	assert.Equal(t, "[tool calls: clock]", msg.Content().Text())
	require.Len(t, msg.ToolCalls(), 1)
	assert.Equal(t, session.ToolCall{ToolID: "t1", Name: "clock", Params: map[string]any{"tz": "UTC"}}, msg.ToolCalls()[0])
}

func TestExecuteAgentFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.start(t, "user-1")

	boom := errors.New("model unavailable")
	failing := scriptedAgent{MockAgent: agentport.NewMockAgent(), err: boom}
	_, err := NewExecuteAgentHandler(f.repo, failing, f.pub, 0).Handle(ctx, ExecuteAgent{SessionID: id, Instruction: "hi"})
	assert.ErrorIs(t, err, boom)

	empty := scriptedAgent{MockAgent: agentport.NewMockAgent(), resp: &agentport.Response{Content: "  "}}
	_, err = NewExecuteAgentHandler(f.repo, empty, f.pub, 0).Handle(ctx, ExecuteAgent{SessionID: id, Instruction: "hi"})
	assert.ErrorIs(t, err, session.ErrEmptyContent)

	s, err := f.repo.FindByID(ctx, session.SessionID(id))
	require.NoError(t, err)
	assert.Equal(t, 0, s.MessageCount())

	agent := &countingAgent{MockAgent: agentport.NewMockAgent()}
	require.NoError(t, NewEndSessionHandler(f.repo, f.pub, 0).Handle(ctx, EndSession{SessionID: id}))
	_, err = NewExecuteAgentHandler(f.repo, agent, f.pub, 0).Handle(ctx, ExecuteAgent{SessionID: id, Instruction: "hi"})
	assert.ErrorIs(t, err, session.ErrSessionNotActive)
	assert.Zero(t, agent.calls.Load())

	_, err = NewExecuteAgentHandler(f.repo, agent, f.pub, 0).Handle(ctx, ExecuteAgent{SessionID: "missing", Instruction: "hi"})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestExecuteAgentCallsAgentOnceOnConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.start(t, "user-1")
	racing := &racingRepository{EventSourcedRepository: f.repo}
	agent := &countingAgent{MockAgent: agentport.NewMockAgent()}

	res, err := NewExecuteAgentHandler(racing, agent, f.pub, 3).Handle(ctx, ExecuteAgent{SessionID: id, Instruction: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), agent.calls.Load())

	s, err := f.repo.FindByID(ctx, session.SessionID(id))
	require.NoError(t, err)
	require.Equal(t, 2, s.MessageCount())
	assert.Equal(t, res.MessageID, string(s.Messages()[1].ID()))
}

func TestGetSessionMessagesPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.start(t, "user-1")
	send := NewSendMessageHandler(f.repo, f.pub, 0)
	for i := range 5 {
		_, err := send.Handle(ctx, SendMessage{SessionID: id, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	h := NewGetSessionMessagesHandler(f.repo)
	tests := []struct {
		name   string
		limit  int
		offset int
		want   []string
	}{
		{"defaults", 0, 0, []string{"m0", "m1", "m2", "m3", "m4"}},
		{"first page", 2, 0, []string{"m0", "m1"}},
		{"middle page", 2, 2, []string{"m2", "m3"}},
		{"short last page", 2, 4, []string{"m4"}},
		{"past end", 2, 10, nil},
		{"negative offset", 1, -3, []string{"m0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Handle(ctx, GetSessionMessages{SessionID: id, Limit: tt.limit, Offset: tt.offset})
			require.NoError(t, err)
			require.NotNil(t, got)
			var texts []string
			for _, m := range got {
				texts = append(texts, m.Content)
			}
			assert.Equal(t, tt.want, texts)
		})
	}

	_, err := h.Handle(ctx, GetSessionMessages{SessionID: "missing"})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestGetSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.start(t, "user-1")
	_, err := NewSendMessageHandler(f.repo, f.pub, 0).Handle(ctx, SendMessage{SessionID: id, Content: "hi"})
	require.NoError(t, err)

	dto, err := NewGetSessionHandler(f.repo).Handle(ctx, GetSession{SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, id, dto.ID)
	assert.Equal(t, "agent-1", dto.AgentID)
	assert.Equal(t, "user-1", dto.UserID)
	assert.Equal(t, string(session.StateActive), dto.State)
	assert.Equal(t, 1, dto.MessageCount)
	assert.False(t, dto.UpdatedAt.Before(dto.CreatedAt))

	_, err = NewGetSessionHandler(f.repo).Handle(ctx, GetSession{SessionID: "missing"})
	var notFound *SessionNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestGetActiveSessionsAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	first := f.start(t, "user-1")
	time.Sleep(2 * time.Millisecond)
	second := f.start(t, "user-1")
	time.Sleep(2 * time.Millisecond)
	third := f.start(t, "user-1")
	f.start(t, "user-2")
	require.NoError(t, NewEndSessionHandler(f.repo, f.pub, 0).Handle(ctx, EndSession{SessionID: second}))

	active, err := NewGetActiveSessionsHandler(f.repo).Handle(ctx, GetActiveSessions{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, first, active[0].ID)
	assert.Equal(t, third, active[1].ID)

	history := NewGetSessionHistoryHandler(f.repo)
	all, err := history.Handle(ctx, GetSessionHistory{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third, second, first}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, string(session.StateEnded), all[1].State)

	limited, err := history.Handle(ctx, GetSessionHistory{UserID: "user-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, third, limited[0].ID)

	windowed, err := history.Handle(ctx, GetSessionHistory{UserID: "user-1", From: all[1].CreatedAt, To: all[1].CreatedAt})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, second, windowed[0].ID)

	none, err := NewGetActiveSessionsHandler(f.repo).Handle(ctx, GetActiveSessions{UserID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
