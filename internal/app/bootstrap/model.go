package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/dealership-ai-platform/internal/config"
	"github.com/wolfman30/dealership-ai-platform/internal/llm"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// Model is the assembled model chain and the name recorded with transcripts.
type Model struct {
	Client llm.Client
	Name   string
	close  func() error
}

// Close releases the primary provider's connection.
func (m *Model) Close() error {
	if m == nil || m.close == nil {
		return nil
	}
	return m.close()
}

// BuildModel wires Gemini as the primary model with Bedrock as fallback.
// Either provider may be used alone. With neither configured every call
// fails with llm.ErrModelUnavailable, so customers get the apology reply.
func BuildModel(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*Model, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var bedrock llm.Client
	if id := strings.TrimSpace(cfg.BedrockModelID); id != "" && awsCfg != nil {
		bedrock = llm.NewBedrockClient(bedrockruntime.NewFromConfig(*awsCfg), id)
	}

	model := &Model{}
	switch {
	case strings.TrimSpace(cfg.GeminiAPIKey) != "":
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini: %w", err)
		}
		model.Client = gemini
		model.Name = cfg.GeminiModel
		model.close = gemini.Close
		if bedrock != nil {
			model.Client = llm.NewFallbackClient(gemini, bedrock, logger)
			logger.Info("model fallback enabled", "primary", cfg.GeminiModel, "fallback", cfg.BedrockModelID)
		}
	case bedrock != nil:
		model.Client = bedrock
		model.Name = cfg.BedrockModelID
	default:
		logger.Warn("no model configured; conversations will answer with the apology reply")
		model.Client = unavailableModel{}
		model.Name = "none"
	}

	if cfg.ModelTimeout > 0 {
		model.Client = llm.NewTimeoutClient(model.Client, cfg.ModelTimeout)
	}
	logger.Info("model ready", "model", model.Name, "timeout", cfg.ModelTimeout.String())
	return model, nil
}

type unavailableModel struct{}

func (unavailableModel) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{}, llm.ErrModelUnavailable
}
