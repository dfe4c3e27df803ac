package agentport

import (
	"context"
	"fmt"
	"log"

	"github.com/agentcore-lab/agentcore/pkg/config"
)

// New creates the configured agent, instrumented. The region is shared with
// the other AWS clients.
func New(ctx context.Context, cfg config.AgentConfig, region string) (Agent, error) {
	var (
		agent Agent
		err   error
	)

	switch cfg.Provider {
	case config.AgentMock, "":
		agent = NewMockAgent()
	case config.AgentBedrock:
		agent, err = NewBedrockAgent(ctx, BedrockConfig{
			ModelID:      cfg.ModelID,
			Region:       region,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
		})
	case config.AgentRuntime:
		if cfg.RuntimeEndpoint == "" {
			return nil, fmt.Errorf("runtime endpoint is required")
		}
		agent = NewRuntimeAgent(cfg.RuntimeEndpoint, cfg.Timeout)
	case config.AgentOpenAI:
		agent, err = NewOpenAIAgent(OpenAIConfig{
			APIKey:       cfg.OpenAIKey,
			Model:        cfg.ModelID,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
		})
	case config.AgentGemini:
		agent, err = NewGeminiAgent(ctx, GeminiConfig{
			APIKey:       cfg.GeminiKey,
			Model:        cfg.ModelID,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown agent provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[agent] using %s agent", agent.Name())
	return Instrument(agent), nil
}
