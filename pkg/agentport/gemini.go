package agentport

import (
	"context"
	"fmt"
	"math"
	"time"

	"google.golang.org/genai"

	"github.com/agentcore-lab/agentcore/pkg/session"
)

// ContentGenerator is the subset of the Gen AI models service used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig contains configuration for the Gemini agent.
type GeminiConfig struct {
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// GeminiAgent calls the Gemini API through the Gen AI SDK.
type GeminiAgent struct {
	models ContentGenerator
	cfg    GeminiConfig
}

// NewGeminiAgent creates an agent with an API key.
func NewGeminiAgent(ctx context.Context, cfg GeminiConfig) (*GeminiAgent, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return NewGeminiAgentFromModels(client.Models, cfg), nil
}

// NewGeminiAgentFromModels creates an agent from an existing models service.
func NewGeminiAgentFromModels(models ContentGenerator, cfg GeminiConfig) *GeminiAgent {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	return &GeminiAgent{models: models, cfg: cfg}
}

// Name returns the provider name
func (g *GeminiAgent) Name() string {
	return "gemini"
}

// Execute runs the instruction without tools.
func (g *GeminiAgent) Execute(ctx context.Context, history []session.Message, instruction string) (*Response, error) {
	return g.generate(ctx, history, instruction, nil)
}

// ExecuteWithTools runs the instruction with function declarations.
func (g *GeminiAgent) ExecuteWithTools(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error) {
	return g.generate(ctx, history, instruction, tools)
}

func (g *GeminiAgent) generate(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error) {
	start := time.Now()
	system, turns := conversation(history, instruction)

	contents := make([]*genai.Content, len(turns))
	for i, t := range turns {
		role := string(genai.RoleUser)
		if t.role == string(session.RoleAssistant) {
			role = string(genai.RoleModel)
		}
		contents[i] = &genai.Content{Role: role, Parts: []*genai.Part{{Text: t.text}}}
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.cfg.Temperature)),
	}
	if g.cfg.MaxTokens > 0 && g.cfg.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}
	if prompt := systemPrompt(g.cfg.SystemPrompt, system); prompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: prompt}}}
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(tools))
		for i, t := range tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.models.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	out := &Response{Metadata: map[string]any{
		"provider":      "gemini",
		"model_id":      g.cfg.Model,
		"finish_reason": string(candidate.FinishReason),
	}}
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, map[string]any{
				"tool_id": part.FunctionCall.ID,
				"name":    part.FunctionCall.Name,
				"params":  part.FunctionCall.Args,
			})
		}
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	if resp.UsageMetadata != nil {
		out.Metadata["input_tokens"] = resp.UsageMetadata.PromptTokenCount
		out.Metadata["output_tokens"] = resp.UsageMetadata.CandidatesTokenCount
	}
	if len(tools) > 0 {
		out.Metadata["tools_available"] = len(tools)
	}
	out.Metadata["latency_ms"] = time.Since(start).Milliseconds()
	return out, nil
}
