package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient implements Client, StreamingClient and ImageAnalyzer using
// Google's Gemini API.
type GeminiClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, apiKey, modelID string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		modelID: modelID,
	}, nil
}

func (c *GeminiClient) model(req Request) *genai.GenerativeModel {
	modelID := c.modelID
	if strings.TrimSpace(req.Model) != "" {
		modelID = req.Model
	}
	model := c.client.GenerativeModel(modelID)

	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if req.JSONOutput {
		model.ResponseMIMEType = "application/json"
	}

	system := req.System
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem && strings.TrimSpace(msg.Content) != "" {
			system = append(system, msg.Content)
		}
	}
	if systemText := strings.TrimSpace(strings.Join(system, "\n\n")); systemText != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  geminiSchema(tool.Parameters),
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return model
}

// startChat loads every message but the last into the chat history and
// returns the parts of the last message.
func (c *GeminiClient) startChat(model *genai.GenerativeModel, req Request) (*genai.ChatSession, []genai.Part, error) {
	var turns []Message
	for _, msg := range req.Messages {
		if msg.Role != RoleSystem {
			turns = append(turns, msg)
		}
	}
	if len(turns) == 0 {
		return nil, nil, errors.New("llm: gemini requires at least one message")
	}

	cs := model.StartChat()
	for _, msg := range turns[:len(turns)-1] {
		parts := geminiParts(msg)
		if len(parts) == 0 {
			continue
		}
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: parts})
	}

	last := geminiParts(turns[len(turns)-1])
	if len(last) == 0 {
		return nil, nil, errors.New("llm: gemini last message is empty")
	}
	return cs, last, nil
}

// Complete sends a completion request to Gemini and returns the response.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := c.model(req)
	cs, last, err := c.startChat(model, req)
	if err != nil {
		return Response{}, err
	}

	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return Response{}, fmt.Errorf("llm: gemini completion failed: %w", err)
	}
	return geminiResponse(resp)
}

// CompleteStream streams text parts as Gemini produces them.
func (c *GeminiClient) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	model := c.model(req)
	cs, last, err := c.startChat(model, req)
	if err != nil {
		return nil, err
	}

	iter := cs.SendMessageStream(ctx, last...)
	chunks := make(chan StreamChunk, 32)
	go func() {
		defer close(chunks)
		var usage TokenUsage
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				chunks <- StreamChunk{Error: fmt.Errorf("llm: gemini stream failed: %w", err), Done: true, Usage: usage}
				return
			}
			if resp.UsageMetadata != nil {
				usage = geminiUsage(resp.UsageMetadata)
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					switch p := part.(type) {
					case genai.Text:
						if p != "" {
							chunks <- StreamChunk{Text: string(p)}
						}
					case genai.FunctionCall:
						chunks <- StreamChunk{ToolCalls: []ToolCall{geminiToolCall(p)}}
					}
				}
			}
		}
		chunks <- StreamChunk{Done: true, Usage: usage}
	}()
	return chunks, nil
}

// AnalyzeImage sends an inline image with a prompt and returns the raw text.
func (c *GeminiClient) AnalyzeImage(ctx context.Context, img Image, prompt string) (string, error) {
	if len(img.Data) == 0 {
		return "", errors.New("llm: image data is empty")
	}
	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(0.2)

	resp, err := model.GenerateContent(ctx, genai.ImageData(imageFormat(img.MIMEType), img.Data), genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("llm: gemini image analysis failed: %w", err)
	}
	out, err := geminiResponse(resp)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func geminiParts(msg Message) []genai.Part {
	var parts []genai.Part
	for _, img := range msg.Images {
		parts = append(parts, genai.ImageData(imageFormat(img.MIMEType), img.Data))
	}
	if content := strings.TrimSpace(msg.Content); content != "" {
		parts = append(parts, genai.Text(content))
	}
	for _, call := range msg.ToolCalls {
		parts = append(parts, genai.FunctionCall{Name: call.Name, Args: decodeArgs(call.Args)})
	}
	for _, res := range msg.ToolResults {
		parts = append(parts, genai.FunctionResponse{Name: res.Name, Response: decodeArgs(res.Result)})
	}
	return parts
}

func geminiResponse(resp *genai.GenerateContentResponse) (Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return Response{}, errors.New("llm: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Response{}, errors.New("llm: gemini returned empty content")
	}

	var (
		text  strings.Builder
		calls []ToolCall
	)
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			calls = append(calls, geminiToolCall(p))
		}
	}

	result := Response{
		Text:       strings.TrimSpace(text.String()),
		ToolCalls:  calls,
		StopReason: candidate.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		result.Usage = geminiUsage(resp.UsageMetadata)
	}
	return result, nil
}

func geminiToolCall(fc genai.FunctionCall) ToolCall {
	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = json.RawMessage("{}")
	}
	return ToolCall{ID: "call_" + uuid.NewString(), Name: fc.Name, Args: args}
}

func geminiUsage(u *genai.UsageMetadata) TokenUsage {
	return TokenUsage{
		InputTokens:  u.PromptTokenCount,
		OutputTokens: u.CandidatesTokenCount,
		TotalTokens:  u.TotalTokenCount,
	}
}

func geminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        geminiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       geminiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = geminiSchema(prop)
		}
	}
	return out
}

func geminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeObject
	}
}

// imageFormat turns "image/jpeg" into the "jpeg" form genai expects.
func imageFormat(mimeType string) string {
	format := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
	if format == "" || format == "jpg" {
		return "jpeg"
	}
	return format
}

func decodeArgs(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var scalar any
		if json.Unmarshal(raw, &scalar) == nil {
			return map[string]any{"result": scalar}
		}
		return map[string]any{"result": string(raw)}
	}
	return out
}
