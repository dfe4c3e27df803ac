package agentport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentcore-lab/agentcore/pkg/session"
)

// maxRuntimeResponseSize bounds the response body read from a runtime.
const maxRuntimeResponseSize = 10 << 20

// InvocationRequest is the body of POST /invocations.
type InvocationRequest struct {
	Input InvocationInput `json:"input"`
}

// InvocationInput carries the prompt and its context.
type InvocationInput struct {
	Prompt   string              `json:"prompt"`
	Messages []InvocationMessage `json:"messages,omitempty"`
	Tools    []Tool              `json:"tools,omitempty"`
}

// InvocationMessage is one history entry.
type InvocationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InvocationResponse is the body returned by POST /invocations.
type InvocationResponse struct {
	Output InvocationOutput `json:"output"`
}

// InvocationOutput wraps the assistant message.
type InvocationOutput struct {
	Message   OutputMessage    `json:"message"`
	ToolCalls []map[string]any `json:"tool_calls,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
}

// OutputMessage is the assistant message of an invocation.
type OutputMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one block of message content.
type ContentPart struct {
	Text string `json:"text"`
}

// RuntimeAgent invokes an agent container over its HTTP contract.
type RuntimeAgent struct {
	endpoint string
	client   *http.Client
}

// NewRuntimeAgent creates an agent for the runtime at endpoint.
func NewRuntimeAgent(endpoint string, timeout time.Duration) *RuntimeAgent {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &RuntimeAgent{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name
func (r *RuntimeAgent) Name() string {
	return "runtime"
}

// Execute invokes the runtime without tools.
func (r *RuntimeAgent) Execute(ctx context.Context, history []session.Message, instruction string) (*Response, error) {
	return r.invoke(ctx, history, instruction, nil)
}

// ExecuteWithTools invokes the runtime with tools.
func (r *RuntimeAgent) ExecuteWithTools(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error) {
	return r.invoke(ctx, history, instruction, tools)
}

// Ping calls the runtime's GET /ping.
func (r *RuntimeAgent) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/ping", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping runtime: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRuntimeResponseSize))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime ping returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *RuntimeAgent) invoke(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error) {
	start := time.Now()

	req := InvocationRequest{Input: InvocationInput{Prompt: instruction, Tools: tools}}
	for _, msg := range history {
		req.Input.Messages = append(req.Input.Messages, InvocationMessage{
			Role:    string(msg.Role()),
			Content: msg.Content().Text(),
		})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal invocation: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/invocations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoke runtime: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxRuntimeResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read runtime response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runtime returned status %d: %s", httpResp.StatusCode, truncateBody(data))
	}

	var out InvocationResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse runtime response: %w", err)
	}

	var content strings.Builder
	for _, part := range out.Output.Message.Content {
		content.WriteString(part.Text)
	}
	if content.Len() == 0 && len(out.Output.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}

	meta := make(map[string]any, len(out.Output.Metadata)+3)
	for k, v := range out.Output.Metadata {
		meta[k] = v
	}
	meta["provider"] = "agentcore_runtime"
	meta["status_code"] = httpResp.StatusCode
	meta["latency_ms"] = time.Since(start).Milliseconds()

	return &Response{
		Content:   content.String(),
		ToolCalls: out.Output.ToolCalls,
		Metadata:  meta,
	}, nil
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
