// Package agentport defines the capability the session core uses to run an
// AI agent, with one implementation per backend.
//
// The backend is chosen once at startup with New; call sites only see Agent.
package agentport

import (
	"context"
	"errors"
	"strings"

	"github.com/agentcore-lab/agentcore/pkg/session"
)

// ErrEmptyResponse is returned when a backend produced no usable output.
var ErrEmptyResponse = errors.New("agent returned an empty response")

// Tool describes a tool the agent may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Response is the result of one agent execution. Callers read Content;
// ToolCalls and Metadata are carried through untouched.
type Response struct {
	Content   string           `json:"content"`
	ToolCalls []map[string]any `json:"tool_calls,omitempty"`
	Metadata  map[string]any   `json:"metadata"`
}

// Agent runs an instruction against a conversation history.
type Agent interface {
	Execute(ctx context.Context, history []session.Message, instruction string) (*Response, error)
	ExecuteWithTools(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error)
	Name() string
}

// Pinger is implemented by agents whose backend can be probed without
// running a model call.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AsPinger returns agent as a Pinger, looking through wrappers that
// implement Unwrap.
func AsPinger(agent Agent) (Pinger, bool) {
	for agent != nil {
		if p, ok := agent.(Pinger); ok {
			return p, true
		}
		w, ok := agent.(interface{ Unwrap() Agent })
		if !ok {
			return nil, false
		}
		agent = w.Unwrap()
	}
	return nil, false
}

// turn is a provider-neutral conversation entry.
type turn struct {
	role string
	text string
}

// conversation flattens history plus instruction into alternating
// user/assistant turns ending with the instruction. System messages are
// returned separately. A trailing user message that repeats the instruction
// is dropped, since callers usually record the instruction before executing.
func conversation(history []session.Message, instruction string) (system []string, turns []turn) {
	for i, msg := range history {
		text := msg.Content().Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if msg.Role() == session.RoleSystem {
			system = append(system, text)
			continue
		}
		if i == len(history)-1 && msg.Role() == session.RoleUser && text == instruction {
			continue
		}
		turns = appendTurn(turns, turn{role: string(msg.Role()), text: text})
	}
	turns = appendTurn(turns, turn{role: string(session.RoleUser), text: instruction})

	// Conversations must open with a user turn.
	for len(turns) > 0 && turns[0].role != string(session.RoleUser) {
		turns = turns[1:]
	}
	return system, turns
}

func appendTurn(turns []turn, t turn) []turn {
	if n := len(turns); n > 0 && turns[n-1].role == t.role {
		turns[n-1].text += "\n\n" + t.text
		return turns
	}
	return append(turns, t)
}

func systemPrompt(base string, extra []string) string {
	parts := make([]string, 0, len(extra)+1)
	if base != "" {
		parts = append(parts, base)
	}
	parts = append(parts, extra...)
	return strings.Join(parts, "\n\n")
}
