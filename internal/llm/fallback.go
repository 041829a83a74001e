package llm

import (
	"context"

	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// FallbackClient wraps a primary client with a fallback provider.
// If the primary fails, it automatically retries with the fallback.
type FallbackClient struct {
	primary  Client
	fallback Client
	logger   *logging.Logger
}

// NewFallbackClient creates a new fallback-enabled client.
// If fallback is nil, the client will only use the primary provider.
func NewFallbackClient(primary, fallback Client, logger *logging.Logger) *FallbackClient {
	if primary == nil {
		panic("llm: primary client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Complete sends a completion request to the primary client.
// If it fails and a fallback is configured, retries with the fallback.
func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary LLM failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", c.fallback != nil,
	)

	if c.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return Response{}, fallbackErr
	}

	c.logger.Info("fallback LLM succeeded after primary failure")
	return fallbackResp, nil
}

// CompleteStream streams from the primary when it can; a failure to open the
// stream falls back to the fallback's stream or its full completion.
func (c *FallbackClient) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	if s, ok := c.primary.(StreamingClient); ok {
		ch, err := s.CompleteStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		c.logger.Warn("primary LLM stream failed, attempting fallback", "error", err.Error())
	}
	if s, ok := c.fallback.(StreamingClient); ok {
		return s.CompleteStream(ctx, req)
	}
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 2)
	ch <- StreamChunk{Text: resp.Text, ToolCalls: resp.ToolCalls}
	ch <- StreamChunk{Done: true, Usage: resp.Usage}
	close(ch)
	return ch, nil
}

// AnalyzeImage tries the primary and then the fallback if either reads images.
func (c *FallbackClient) AnalyzeImage(ctx context.Context, img Image, prompt string) (string, error) {
	var firstErr error
	for _, candidate := range []Client{c.primary, c.fallback} {
		analyzer, ok := candidate.(ImageAnalyzer)
		if !ok {
			continue
		}
		text, err := analyzer.AnalyzeImage(ctx, img, prompt)
		if err == nil {
			return text, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		c.logger.Warn("image analysis failed", "error", err.Error())
	}
	if firstErr == nil {
		firstErr = ErrModelUnavailable
	}
	return "", firstErr
}
