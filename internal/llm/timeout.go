package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 12 * time.Second

// TimeoutClient bounds every call with a fixed timeout and detaches it from
// caller cancellation so an abandoned request still completes and gets logged.
// Failures are reported as ErrModelUnavailable.
type TimeoutClient struct {
	inner   Client
	timeout time.Duration
}

func NewTimeoutClient(inner Client, timeout time.Duration) *TimeoutClient {
	if inner == nil {
		panic("llm: client required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TimeoutClient{inner: inner, timeout: timeout}
}

func (c *TimeoutClient) Complete(ctx context.Context, req Request) (Response, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	resp, err := c.inner.Complete(callCtx, req)
	if err != nil {
		return Response{}, unavailable(err)
	}
	return resp, nil
}

// CompleteStream streams through the inner client when it supports it, and
// otherwise emits the whole completion as a single chunk.
func (c *TimeoutClient) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	streamer, ok := c.inner.(StreamingClient)
	if !ok {
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

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	in, err := streamer.CompleteStream(callCtx, req)
	if err != nil {
		cancel()
		return nil, unavailable(err)
	}
	out := make(chan StreamChunk, 32)
	go func() {
		defer cancel()
		defer close(out)
		for chunk := range in {
			if chunk.Error != nil {
				chunk.Error = unavailable(chunk.Error)
			}
			out <- chunk
		}
	}()
	return out, nil
}

// AnalyzeImage forwards to the inner client when it can read images.
func (c *TimeoutClient) AnalyzeImage(ctx context.Context, img Image, prompt string) (string, error) {
	analyzer, ok := c.inner.(ImageAnalyzer)
	if !ok {
		return "", fmt.Errorf("%w: image input not supported", ErrModelUnavailable)
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	text, err := analyzer.AnalyzeImage(callCtx, img, prompt)
	if err != nil {
		return "", unavailable(err)
	}
	return text, nil
}

func unavailable(err error) error {
	if errors.Is(err, ErrModelUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
}
