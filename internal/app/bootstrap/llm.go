package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/messenger-concierge/internal/config"
	"github.com/wolfman30/messenger-concierge/internal/llm"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// BuildLLMClient returns the configured provider, wrapped with a fallback
// provider when LLM_FALLBACK_PROVIDER names a different one.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (llm.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	primary, err := buildProvider(ctx, cfg.LLMProvider, cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	logger.Info("llm provider configured", "provider", cfg.LLMProvider)

	fallbackName := strings.TrimSpace(cfg.LLMFallbackProvider)
	if fallbackName == "" || fallbackName == cfg.LLMProvider {
		return primary, nil
	}
	fallback, err := buildProvider(ctx, fallbackName, cfg, awsCfg)
	if err != nil {
		logger.Warn("fallback llm provider unavailable", "provider", fallbackName, "error", err)
		return primary, nil
	}
	logger.Info("llm fallback configured", "provider", fallbackName)
	return llm.NewFallbackClient(primary, fallback, logger), nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, awsCfg aws.Config) (llm.Client, error) {
	switch name {
	case "openai":
		client, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: openai client: %w", err)
		}
		return client, nil
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required")
		}
		return llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", name)
	}
}
