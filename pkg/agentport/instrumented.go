package agentport

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore-lab/agentcore/internal/observability"
	"github.com/agentcore-lab/agentcore/pkg/session"
	metrics "github.com/agentcore-lab/agentcore/pkg/observability"
)

// InstrumentedAgent wraps an Agent with tracing and execution metrics.
type InstrumentedAgent struct {
	agent Agent
}

// Instrument wraps agent. Wrapping an already instrumented agent returns it
// unchanged.
func Instrument(agent Agent) Agent {
	if _, ok := agent.(*InstrumentedAgent); ok {
		return agent
	}
	return &InstrumentedAgent{agent: agent}
}

// Unwrap returns the wrapped agent.
func (a *InstrumentedAgent) Unwrap() Agent {
	return a.agent
}

// Name returns the wrapped agent's name.
func (a *InstrumentedAgent) Name() string {
	return a.agent.Name()
}

// Execute implements Agent.
func (a *InstrumentedAgent) Execute(ctx context.Context, history []session.Message, instruction string) (*Response, error) {
	return a.run(ctx, len(history), 0, func(ctx context.Context) (*Response, error) {
		return a.agent.Execute(ctx, history, instruction)
	})
}

// ExecuteWithTools implements Agent.
func (a *InstrumentedAgent) ExecuteWithTools(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error) {
	return a.run(ctx, len(history), len(tools), func(ctx context.Context) (*Response, error) {
		return a.agent.ExecuteWithTools(ctx, history, instruction, tools)
	})
}

func (a *InstrumentedAgent) run(ctx context.Context, historyLen, toolCount int, fn func(context.Context) (*Response, error)) (*Response, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, fmt.Sprintf("agent.%s.execute", a.agent.Name()),
		trace.WithAttributes(
			attribute.String("agent.provider", a.agent.Name()),
			attribute.Int("agent.history_count", historyLen),
			attribute.Int("agent.tools_count", toolCount),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := fn(ctx)
	metrics.RecordAgentExecution(a.agent.Name(), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("agent.response_length", len(resp.Content)),
		attribute.Int("agent.tool_calls", len(resp.ToolCalls)),
	)
	return resp, nil
}
