package session

import (
	"maps"
	"slices"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolCall records one tool invocation made while producing a message.
type ToolCall struct {
	ToolID string         `json:"tool_id"`
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Result any            `json:"result,omitempty"`
}

func (tc ToolCall) clone() ToolCall {
	tc.Params = cloneMap(tc.Params)
	tc.Result = cloneValue(tc.Result)
	return tc
}

// cloneMap deep-copies the JSON-shaped values tool calls and metadata carry:
// nested maps and slices are copied, anything else is shared.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(v))
		for i, e := range v {
			out[i] = cloneMap(e)
		}
		return out
	case map[string]string:
		return maps.Clone(v)
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}

// Message is an entity owned by a Session. Values are immutable; accessors
// return deep copies of tool calls and metadata.
type Message struct {
	id        MessageID
	role      Role
	content   Content
	toolCalls []ToolCall
	metadata  map[string]any
	createdAt time.Time
}

// NewUserMessage creates a user message with a fresh id and timestamp.
func NewUserMessage(content Content, metadata map[string]any) Message {
	return newMessage(RoleUser, content, nil, metadata)
}

// NewAssistantMessage creates an assistant message with a fresh id and timestamp.
func NewAssistantMessage(content Content, toolCalls []ToolCall, metadata map[string]any) Message {
	return newMessage(RoleAssistant, content, toolCalls, metadata)
}

// NewSystemMessage creates a system message with a fresh id and timestamp.
func NewSystemMessage(content Content) Message {
	return newMessage(RoleSystem, content, nil, nil)
}

func newMessage(role Role, content Content, toolCalls []ToolCall, metadata map[string]any) Message {
	return Message{
		id:        NewMessageID(),
		role:      role,
		content:   content,
		toolCalls: cloneToolCalls(toolCalls),
		metadata:  cloneMap(metadata),
		createdAt: now(),
	}
}

// ID returns the message id.
func (m Message) ID() MessageID { return m.id }

// Role returns the message author.
func (m Message) Role() Role { return m.role }

// Content returns the message body.
func (m Message) Content() Content { return m.content }

// ToolCalls returns a copy of the tool calls, in order.
func (m Message) ToolCalls() []ToolCall { return cloneToolCalls(m.toolCalls) }

// Metadata returns a copy of the message metadata.
func (m Message) Metadata() map[string]any { return cloneMap(m.metadata) }

// CreatedAt returns when the message was created.
func (m Message) CreatedAt() time.Time { return m.createdAt }

func (m Message) clone() Message {
	m.toolCalls = cloneToolCalls(m.toolCalls)
	m.metadata = cloneMap(m.metadata)
	return m
}

func cloneToolCalls(in []ToolCall) []ToolCall {
	if len(in) == 0 {
		return nil
	}
	out := make([]ToolCall, len(in))
	for i, tc := range in {
		out[i] = tc.clone()
	}
	return out
}

// now is the package clock; timestamps are always UTC.
var now = func() time.Time { return time.Now().UTC() }
