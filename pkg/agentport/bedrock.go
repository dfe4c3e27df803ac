package agentport

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentcore-lab/agentcore/pkg/session"
)

// ConverseAPI is the subset of the Bedrock runtime client used here.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockConfig contains configuration for the Bedrock agent.
type BedrockConfig struct {
	ModelID      string
	Region       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// BedrockAgent calls a Bedrock model directly through the Converse API.
type BedrockAgent struct {
	client ConverseAPI
	cfg    BedrockConfig
}

// NewBedrockAgent creates an agent using the default AWS credential chain.
func NewBedrockAgent(ctx context.Context, cfg BedrockConfig) (*BedrockAgent, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("bedrock model ID is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewBedrockAgentFromClient(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

// NewBedrockAgentFromClient creates an agent from an existing client.
func NewBedrockAgentFromClient(client ConverseAPI, cfg BedrockConfig) *BedrockAgent {
	return &BedrockAgent{client: client, cfg: cfg}
}

// Name returns the provider name
func (b *BedrockAgent) Name() string {
	return "bedrock"
}

// Execute runs the instruction without tools.
func (b *BedrockAgent) Execute(ctx context.Context, history []session.Message, instruction string) (*Response, error) {
	return b.converse(ctx, history, instruction, nil)
}

// ExecuteWithTools runs the instruction with tool specs attached.
func (b *BedrockAgent) ExecuteWithTools(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error) {
	return b.converse(ctx, history, instruction, tools)
}

func (b *BedrockAgent) converse(ctx context.Context, history []session.Message, instruction string, tools []Tool) (*Response, error) {
	start := time.Now()
	input := b.buildInput(history, instruction, tools)

	out, err := b.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, ErrEmptyResponse
	}

	resp := &Response{Metadata: map[string]any{
		"provider":    "bedrock",
		"model_id":    b.cfg.ModelID,
		"stop_reason": string(out.StopReason),
	}}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			resp.Content += v.Value
		case *brtypes.ContentBlockMemberToolUse:
			var params map[string]any
			if v.Value.Input != nil {
				if err := v.Value.Input.UnmarshalSmithyDocument(&params); err != nil {
					return nil, fmt.Errorf("decode tool input: %w", err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, map[string]any{
				"tool_id": aws.ToString(v.Value.ToolUseId),
				"name":    aws.ToString(v.Value.Name),
				"params":  params,
			})
		}
	}
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}

	if out.Usage != nil {
		resp.Metadata["input_tokens"] = aws.ToInt32(out.Usage.InputTokens)
		resp.Metadata["output_tokens"] = aws.ToInt32(out.Usage.OutputTokens)
	}
	if len(tools) > 0 {
		resp.Metadata["tools_available"] = len(tools)
	}
	resp.Metadata["latency_ms"] = time.Since(start).Milliseconds()
	return resp, nil
}

func (b *BedrockAgent) buildInput(history []session.Message, instruction string, tools []Tool) *bedrockruntime.ConverseInput {
	system, turns := conversation(history, instruction)

	messages := make([]brtypes.Message, len(turns))
	for i, t := range turns {
		role := brtypes.ConversationRoleUser
		if t.role == string(session.RoleAssistant) {
			role = brtypes.ConversationRoleAssistant
		}
		messages[i] = brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: t.text}},
		}
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(b.cfg.ModelID),
		Messages: messages,
	}
	if prompt := systemPrompt(b.cfg.SystemPrompt, system); prompt != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: prompt}}
	}

	inference := &brtypes.InferenceConfiguration{}
	if b.cfg.MaxTokens > 0 && b.cfg.MaxTokens <= math.MaxInt32 {
		inference.MaxTokens = aws.Int32(int32(b.cfg.MaxTokens))
	}
	if b.cfg.Temperature > 0 {
		inference.Temperature = aws.Float32(float32(b.cfg.Temperature))
	}
	input.InferenceConfig = inference

	if len(tools) > 0 {
		specs := make([]brtypes.Tool, len(tools))
		for i, t := range tools {
			schema := t.InputSchema
			if schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			spec := brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			}
			if t.Description != "" {
				spec.Description = aws.String(t.Description)
			}
			specs[i] = &brtypes.ToolMemberToolSpec{Value: spec}
		}
		input.ToolConfig = &brtypes.ToolConfiguration{Tools: specs}
	}
	return input
}
