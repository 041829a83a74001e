package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	resp  Response
	err   error
	delay time.Duration
	calls int
	image string
}

func (s *stubClient) Complete(ctx context.Context, req Request) (Response, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	return s.resp, s.err
}

func (s *stubClient) AnalyzeImage(ctx context.Context, img Image, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.image, nil
}

func TestFallbackClient_UsesFallbackOnPrimaryError(t *testing.T) {
	primary := &stubClient{err: errors.New("quota")}
	fallback := &stubClient{resp: Response{Text: "hola"}}
	c := NewFallbackClient(primary, fallback, nil)

	resp, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "hola", resp.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestFallbackClient_NoFallbackReturnsPrimaryError(t *testing.T) {
	primaryErr := errors.New("quota")
	c := NewFallbackClient(&stubClient{err: primaryErr}, nil, nil)

	_, err := c.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, primaryErr)
}

func TestFallbackClient_StreamWithoutStreamingProviders(t *testing.T) {
	c := NewFallbackClient(&stubClient{resp: Response{Text: "todo junto"}}, nil, nil)

	ch, err := c.CompleteStream(context.Background(), Request{})
	require.NoError(t, err)
	var text string
	var done bool
	for chunk := range ch {
		text += chunk.Text
		done = done || chunk.Done
	}
	assert.Equal(t, "todo junto", text)
	assert.True(t, done)
}

func TestFallbackClient_AnalyzeImage(t *testing.T) {
	c := NewFallbackClient(&stubClient{err: errors.New("down")}, &stubClient{image: `{"condition":"good"}`}, nil)
	text, err := c.AnalyzeImage(context.Background(), Image{MIMEType: "image/png", Data: []byte{1}}, "describe")
	require.NoError(t, err)
	assert.Contains(t, text, "good")
}

func TestTimeoutClient_WrapsErrorsAsUnavailable(t *testing.T) {
	slow := &stubClient{delay: time.Second}
	c := NewTimeoutClient(slow, 20*time.Millisecond)

	_, err := c.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutClient_IgnoresCallerCancellation(t *testing.T) {
	inner := &stubClient{resp: Response{Text: "ok"}, delay: 30 * time.Millisecond}
	c := NewTimeoutClient(inner, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := c.Complete(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestTimeoutClient_AnalyzeImageUnsupported(t *testing.T) {
	type textOnly struct{ Client }
	c := NewTimeoutClient(textOnly{&stubClient{}}, time.Second)
	_, err := c.AnalyzeImage(context.Background(), Image{}, "x")
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestDrain_KeepsPartialTextOnError(t *testing.T) {
	ch := make(chan StreamChunk, 4)
	ch <- StreamChunk{Text: "Hola, "}
	ch <- StreamChunk{Text: "tenemos"}
	ch <- StreamChunk{Error: ErrModelUnavailable, Done: true}
	close(ch)

	var seen []string
	resp, err := Drain(ch, func(s string) { seen = append(seen, s) })

	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, "Hola, tenemos", resp.Text)
	assert.Equal(t, []string{"Hola, ", "tenemos"}, seen)
}

func TestDrain_CollectsToolCalls(t *testing.T) {
	ch := make(chan StreamChunk, 3)
	ch <- StreamChunk{ToolCalls: []ToolCall{{ID: "c1", Name: "score_lead"}}}
	ch <- StreamChunk{Text: " listo "}
	ch <- StreamChunk{Done: true, Usage: TokenUsage{TotalTokens: 9}}
	close(ch)

	resp, err := Drain(ch, nil)

	require.NoError(t, err)
	assert.Equal(t, "listo", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, int32(9), resp.Usage.TotalTokens)
}
