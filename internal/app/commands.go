package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore-lab/agentcore/internal/observability"
	"github.com/agentcore-lab/agentcore/pkg/agentport"
	"github.com/agentcore-lab/agentcore/pkg/eventstore"
	metrics "github.com/agentcore-lab/agentcore/pkg/observability"
	"github.com/agentcore-lab/agentcore/pkg/publisher"
	"github.com/agentcore-lab/agentcore/pkg/session"
)

// executor runs the load, mutate, save and publish cycle shared by every
// command handler.
type executor struct {
	repo        session.Repository
	publisher   publisher.Publisher
	maxAttempts int
}

func newExecutor(repo session.Repository, pub publisher.Publisher, maxAttempts int) executor {
	if pub == nil {
		pub = publisher.Discard
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return executor{repo: repo, publisher: pub, maxAttempts: maxAttempts}
}

// apply mutates the session and saves it. On a concurrency conflict the
// session is reloaded and mutate runs again, so mutate must only depend on
// the command. loaded, when non-nil, is used for the first attempt.
func (e executor) apply(ctx context.Context, command, id string, loaded *session.Session, mutate func(*session.Session) error) (*session.Session, error) {
	s := loaded
	for attempt := 1; ; attempt++ {
		if s == nil {
			var err error
			if s, err = load(ctx, e.repo, id); err != nil {
				return nil, err
			}
		}
		if err := mutate(s); err != nil {
			return nil, err
		}

		events := s.DomainEvents()
		err := e.repo.Save(ctx, s)
		if err == nil {
			e.publish(ctx, events)
			return s, nil
		}
		if !errors.Is(err, eventstore.ErrConcurrency) || attempt >= e.maxAttempts {
			return nil, err
		}

		metrics.RecordCommandRetry(command)
		log.Printf("[app] %s on session %s conflicted (attempt %d/%d), retrying", command, id, attempt, e.maxAttempts)
		s = nil
	}
}

// publish sends events one at a time in generation order. Failures are
// logged; the events are already durable.
func (e executor) publish(ctx context.Context, events []session.DomainEvent) {
	for _, ev := range events {
		if err := e.publisher.Publish(ctx, ev, ev.EventType()); err != nil {
			metrics.RecordPublish(ev.EventType(), "error")
			log.Printf("[app] publish %s %s failed: %v", ev.EventType(), ev.EventID(), err)
			continue
		}
		metrics.RecordPublish(ev.EventType(), "ok")
	}
}

// StartSessionHandler handles StartSession.
type StartSessionHandler struct {
	exec executor
}

// NewStartSessionHandler creates the handler.
func NewStartSessionHandler(repo session.Repository, pub publisher.Publisher) *StartSessionHandler {
	return &StartSessionHandler{exec: newExecutor(repo, pub, 1)}
}

// Handle starts a session and returns its id.
func (h *StartSessionHandler) Handle(ctx context.Context, cmd StartSession) (session.SessionID, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, "command.start_session",
		trace.WithAttributes(attribute.String("agent.id", cmd.AgentID)))
	defer span.End()

	s := session.Start(session.AgentID(cmd.AgentID), session.UserID(cmd.UserID))
	events := s.DomainEvents()
	if err := h.exec.repo.Save(ctx, s); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("save new session: %w", err)
	}
	h.exec.publish(ctx, events)

	span.SetAttributes(attribute.String("session.id", string(s.ID())))
	return s.ID(), nil
}

// SendMessageHandler handles SendMessage.
type SendMessageHandler struct {
	exec executor
}

// NewSendMessageHandler creates the handler.
func NewSendMessageHandler(repo session.Repository, pub publisher.Publisher, maxAttempts int) *SendMessageHandler {
	return &SendMessageHandler{exec: newExecutor(repo, pub, maxAttempts)}
}

// Handle appends a user message and returns its id.
func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessage) (session.MessageID, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, "command.send_message",
		trace.WithAttributes(attribute.String("session.id", cmd.SessionID)))
	defer span.End()

	content, err := session.NewTextContent(cmd.Content)
	if err != nil {
		return "", err
	}
	msg := session.NewUserMessage(content, cmd.Metadata)

	if _, err := h.exec.apply(ctx, "send_message", cmd.SessionID, nil, func(s *session.Session) error {
		return s.AddMessage(msg)
	}); err != nil {
		span.RecordError(err)
		return "", err
	}
	return msg.ID(), nil
}

// EndSessionHandler handles EndSession.
type EndSessionHandler struct {
	exec executor
}

// NewEndSessionHandler creates the handler.
func NewEndSessionHandler(repo session.Repository, pub publisher.Publisher, maxAttempts int) *EndSessionHandler {
	return &EndSessionHandler{exec: newExecutor(repo, pub, maxAttempts)}
}

// Handle ends the session.
func (h *EndSessionHandler) Handle(ctx context.Context, cmd EndSession) error {
	ctx, span := observability.StartSpanWithOtel(ctx, "command.end_session",
		trace.WithAttributes(attribute.String("session.id", cmd.SessionID)))
	defer span.End()

	_, err := h.exec.apply(ctx, "end_session", cmd.SessionID, nil, func(s *session.Session) error {
		return s.End(cmd.Reason)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ExecuteAgentHandler handles ExecuteAgent.
type ExecuteAgentHandler struct {
	exec  executor
	agent agentport.Agent
}

// NewExecuteAgentHandler creates the handler.
func NewExecuteAgentHandler(repo session.Repository, agent agentport.Agent, pub publisher.Publisher, maxAttempts int) *ExecuteAgentHandler {
	return &ExecuteAgentHandler{exec: newExecutor(repo, pub, maxAttempts), agent: agent}
}

// Handle runs the agent over the session's recent messages and records the
// answer as an assistant message. The agent is called once; only the save
// is retried on conflict.
func (h *ExecuteAgentHandler) Handle(ctx context.Context, cmd ExecuteAgent) (*ExecuteResult, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, "command.execute_agent",
		trace.WithAttributes(
			attribute.String("session.id", cmd.SessionID),
			attribute.String("agent.provider", h.agent.Name()),
			attribute.Int("agent.tools_count", len(cmd.Tools)),
		),
	)
	defer span.End()

	s, err := load(ctx, h.exec.repo, cmd.SessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !s.IsActive() {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotActive, cmd.SessionID)
	}

	history := s.Context(ContextWindow)
	var resp *agentport.Response
	if len(cmd.Tools) > 0 {
		resp, err = h.agent.ExecuteWithTools(ctx, history, cmd.Instruction, cmd.Tools)
	} else {
		resp, err = h.agent.Execute(ctx, history, cmd.Instruction)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("execute agent: %w", err)
	}

	content, err := session.NewTextContent(responseText(resp))
	if err != nil {
		return nil, fmt.Errorf("agent response: %w", err)
	}
	msg := session.NewAssistantMessage(content, toolCalls(resp.ToolCalls), resp.Metadata)

	if _, err := h.exec.apply(ctx, "execute_agent", cmd.SessionID, s, func(s *session.Session) error {
		return s.AddMessage(msg)
	}); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &ExecuteResult{
		MessageID: string(msg.ID()),
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Metadata:  resp.Metadata,
	}, nil
}

// responseText is the assistant message text. A response carrying only tool
// calls is recorded by the tool names.
func responseText(resp *agentport.Response) string {
	if strings.TrimSpace(resp.Content) != "" || len(resp.ToolCalls) == 0 {
		return resp.Content
	}
	names := make([]string, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		if name, ok := call["name"].(string); ok {
			names = append(names, name)
		}
	}
	return fmt.Sprintf("[tool calls: %s]", strings.Join(names, ", "))
}

func toolCalls(calls []map[string]any) []session.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]session.ToolCall, 0, len(calls))
	for _, call := range calls {
		tc := session.ToolCall{}
		tc.ToolID, _ = call["tool_id"].(string)
		tc.Name, _ = call["name"].(string)
		tc.Params, _ = call["params"].(map[string]any)
		tc.Result = call["result"]
		out = append(out, tc)
	}
	return out
}
