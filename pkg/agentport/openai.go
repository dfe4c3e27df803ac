package agentport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore-lab/agentcore/pkg/session"
)

// ChatClient is the subset of the OpenAI client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig contains configuration for the OpenAI agent.
type OpenAIConfig struct {
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// OpenAIAgent calls the OpenAI chat completions API.
type OpenAIAgent struct {
	client ChatClient
	cfg    OpenAIConfig
}

// NewOpenAIAgent creates an agent with an API key.
func NewOpenAIAgent(cfg OpenAIConfig) (*OpenAIAgent, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return NewOpenAIAgentFromClient(openai.NewClient(cfg.APIKey), cfg), nil
}

// NewOpenAIAgentFromClient creates an agent from an existing client.
func NewOpenAIAgentFromClient(client ChatClient, cfg OpenAIConfig) *OpenAIAgent {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &OpenAIAgent{client: client, cfg: cfg}
}

// Name returns the provider name
func (o *OpenAIAgent) Name() string {
	return "openai"
}

// Execute runs the instruction without tools.
func (o *OpenAIAgent) Execute(ctx context.Context, history []session.Message, instruction string) (*Response, error) {
	return o.complete(ctx, history, instruction, nil)
}

// ExecuteWithTools runs the instruction with function tools.
func (o *OpenAIAgent) ExecuteWithTools(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error) {
	return o.complete(ctx, history, instruction, tools)
}

func (o *OpenAIAgent) complete(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error) {
	start := time.Now()
	system, turns := conversation(history, instruction)

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if prompt := systemPrompt(o.cfg.SystemPrompt, system); prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt})
	}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.role == string(session.RoleAssistant) {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.text})
	}

	req := openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: float32(o.cfg.Temperature),
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	out := &Response{
		Content: choice.Message.Content,
		Metadata: map[string]any{
			"provider":      "openai",
			"model_id":      resp.Model,
			"finish_reason": string(choice.FinishReason),
			"input_tokens":  resp.Usage.PromptTokens,
			"output_tokens": resp.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		var params map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &params); err != nil {
				return nil, fmt.Errorf("decode tool arguments for %s: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, map[string]any{
			"tool_id": call.ID,
			"name":    call.Function.Name,
			"params":  params,
		})
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	if len(tools) > 0 {
		out.Metadata["tools_available"] = len(tools)
	}
	out.Metadata["latency_ms"] = time.Since(start).Milliseconds()
	return out, nil
}
