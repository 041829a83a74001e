// Package llm wraps the generative model providers behind one request shape
// with tool calling, streaming and image input.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrModelUnavailable is returned when a model call fails or times out.
	ErrModelUnavailable = errors.New("llm: model unavailable")
	// ErrMalformedModelOutput is returned when a structured reply cannot be parsed.
	ErrMalformedModelOutput = errors.New("llm: malformed model output")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	// RoleTool carries tool results back to the model.
	RoleTool = "tool"
)

// Image is inline image input.
type Image struct {
	MIMEType string
	Data     []byte
}

// ToolCall is a structured request from the model to run a tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result"`
}

// Message is one entry of the provider-neutral transcript.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Images      []Image      `json:"-"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Schema is the subset of JSON schema used for tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// Map renders the schema as plain JSON-schema maps.
func (s *Schema) Map() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.Map()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = s.Items.Map()
	}
	return out
}

// ToolDeclaration advertises a callable tool to the model.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  *Schema
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type Request struct {
	Model       string
	System      []string
	Messages    []Message
	Tools       []ToolDeclaration
	MaxTokens   int32
	Temperature float32
	TopP        float32
	// JSONOutput asks the provider for a bare JSON reply when supported.
	JSONOutput bool
}

type Response struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      TokenUsage
	StopReason string
}

// StreamChunk is one piece of a streamed completion. The last chunk has Done
// set and may carry Error. Tool calls arrive whole.
type StreamChunk struct {
	Text      string
	ToolCalls []ToolCall
	Error     error
	Done      bool
	Usage     TokenUsage
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// StreamingClient is implemented by providers that can stream text.
type StreamingClient interface {
	CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// ImageAnalyzer returns the raw model text for an image prompt.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, img Image, prompt string) (string, error)
}

// Generate runs a single-turn prompt and returns the reply text.
func Generate(ctx context.Context, c Client, system, prompt string, jsonOutput bool) (string, error) {
	req := Request{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: 0,
		JSONOutput:  jsonOutput,
	}
	if system != "" {
		req.System = []string{system}
	}
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Drain reads a stream to its end and assembles the response. On a stream
// error the text received so far is returned together with the error.
func Drain(chunks <-chan StreamChunk, onText func(string)) (Response, error) {
	var (
		resp Response
		text strings.Builder
	)
	for chunk := range chunks {
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if onText != nil {
				onText(chunk.Text)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		if chunk.Done {
			resp.Usage = chunk.Usage
		}
		if chunk.Error != nil {
			resp.Text = text.String()
			return resp, chunk.Error
		}
	}
	resp.Text = strings.TrimSpace(text.String())
	return resp, nil
}
