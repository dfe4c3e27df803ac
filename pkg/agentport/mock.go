package agentport

import (
	"context"
	"fmt"

	"github.com/agentcore-lab/agentcore/pkg/session"
)

// MockAgent answers without calling any backend. It is the development
// default and needs no credentials.
type MockAgent struct{}

// NewMockAgent creates a mock agent.
func NewMockAgent() *MockAgent {
	return &MockAgent{}
}

// Name returns the provider name
func (m *MockAgent) Name() string {
	return "mock"
}

// Execute echoes the instruction.
func (m *MockAgent) Execute(ctx context.Context, history []session.Message, instruction string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{
		Content: fmt.Sprintf("[Mock Response] Your message: %s\n\nThis is a mock response from the development environment.", instruction),
		Metadata: map[string]any{
			"provider":      "mock",
			"model_id":      "mock-model",
			"latency_ms":    100,
			"context_turns": len(history),
		},
	}, nil
}

// ExecuteWithTools echoes the instruction and the number of tools offered.
func (m *MockAgent) ExecuteWithTools(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{
		Content: fmt.Sprintf("[Mock Response with Tools] Your message: %s\nAvailable tools: %d\n\nThis is a mock response from the development environment.", instruction, len(tools)),
		Metadata: map[string]any{
			"provider":        "mock",
			"model_id":        "mock-model",
			"latency_ms":      150,
			"tools_available": len(tools),
			"context_turns":   len(history),
		},
	}, nil
}
