package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockClient implements Client, StreamingClient and ImageAnalyzer on the
// Bedrock Converse API. It serves as the fallback provider.
type BedrockClient struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockClient(api bedrockConverseAPI, modelID string) *BedrockClient {
	if api == nil {
		panic("llm: bedrock converse client cannot be nil")
	}
	return &BedrockClient{api: api, modelID: modelID}
}

type bedrockPayload struct {
	model     string
	system    []brtypes.SystemContentBlock
	messages  []brtypes.Message
	inference *brtypes.InferenceConfiguration
	tools     *brtypes.ToolConfiguration
}

func (c *BedrockClient) payload(req Request) (bedrockPayload, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.modelID
	}
	if model == "" {
		return bedrockPayload{}, errors.New("llm: bedrock model id is required")
	}

	p := bedrockPayload{model: model}
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		p.system = append(p.system, &brtypes.SystemContentBlockMemberText{Value: block})
	}
	if req.JSONOutput {
		p.system = append(p.system, &brtypes.SystemContentBlockMemberText{Value: "Respond with a single JSON object and nothing else."})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if content := strings.TrimSpace(msg.Content); content != "" {
				p.system = append(p.system, &brtypes.SystemContentBlockMemberText{Value: content})
			}
		case RoleUser, RoleTool:
			if blocks := bedrockBlocks(msg); len(blocks) > 0 {
				p.messages = append(p.messages, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: blocks})
			}
		case RoleAssistant:
			if blocks := bedrockBlocks(msg); len(blocks) > 0 {
				p.messages = append(p.messages, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
			}
		default:
			return bedrockPayload{}, fmt.Errorf("llm: unsupported role %q", msg.Role)
		}
	}

	inference := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(req.MaxTokens)
	}
	// Allow callers to omit temperature by passing a negative value.
	if req.Temperature >= 0 {
		inference.Temperature = aws.Float32(req.Temperature)
	}
	if req.TopP != 0 {
		inference.TopP = aws.Float32(req.TopP)
	}
	if inference.MaxTokens != nil || inference.Temperature != nil || inference.TopP != nil {
		p.inference = inference
	}

	if len(req.Tools) > 0 {
		tools := make([]brtypes.Tool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			schema := tool.Parameters
			if schema == nil {
				schema = &Schema{Type: "object"}
			}
			tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema.Map())},
			}})
		}
		p.tools = &brtypes.ToolConfiguration{Tools: tools}
	}
	return p, nil
}

func bedrockBlocks(msg Message) []brtypes.ContentBlock {
	var blocks []brtypes.ContentBlock
	for _, img := range msg.Images {
		blocks = append(blocks, &brtypes.ContentBlockMemberImage{Value: brtypes.ImageBlock{
			Format: brtypes.ImageFormat(imageFormat(img.MIMEType)),
			Source: &brtypes.ImageSourceMemberBytes{Value: img.Data},
		}})
	}
	if content := strings.TrimSpace(msg.Content); content != "" {
		blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: content})
	}
	for _, call := range msg.ToolCalls {
		blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
			ToolUseId: aws.String(call.ID),
			Name:      aws.String(call.Name),
			Input:     document.NewLazyDocument(decodeArgs(call.Args)),
		}})
	}
	for _, res := range msg.ToolResults {
		blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
			ToolUseId: aws.String(res.CallID),
			Content: []brtypes.ToolResultContentBlock{
				&brtypes.ToolResultContentBlockMemberText{Value: string(res.Result)},
			},
		}})
	}
	return blocks
}

func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	p, err := c.payload(req)
	if err != nil {
		return Response{}, err
	}

	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(p.model),
		System:          p.system,
		Messages:        p.messages,
		InferenceConfig: p.inference,
		ToolConfig:      p.tools,
	})
	if err != nil {
		return Response{}, err
	}

	resp, err := bedrockExtractOutput(out)
	if err != nil {
		return Response{}, err
	}
	if out.StopReason != "" {
		resp.StopReason = string(out.StopReason)
	}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}
	return resp, nil
}

// CompleteStream implements streaming completions using Bedrock's ConverseStream API.
// Returns a channel that emits partial text chunks as they arrive.
func (c *BedrockClient) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	p, err := c.payload(req)
	if err != nil {
		return nil, err
	}

	out, err := c.api.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(p.model),
		System:          p.system,
		Messages:        p.messages,
		InferenceConfig: p.inference,
		ToolConfig:      p.tools,
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk, 32)

	go func() {
		defer close(chunks)

		stream := out.GetStream()
		if stream == nil {
			chunks <- StreamChunk{Error: errors.New("llm: bedrock stream is nil"), Done: true}
			return
		}
		defer stream.Close()

		var (
			usage TokenUsage
			call  *ToolCall
			input strings.Builder
		)
		flush := func() {
			if call == nil {
				return
			}
			call.Args = json.RawMessage(input.String())
			if len(call.Args) == 0 {
				call.Args = json.RawMessage("{}")
			}
			chunks <- StreamChunk{ToolCalls: []ToolCall{*call}}
			call = nil
			input.Reset()
		}
		for event := range stream.Events() {
			switch v := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				if start, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
					flush()
					call = &ToolCall{ID: aws.ToString(start.Value.ToolUseId), Name: aws.ToString(start.Value.Name)}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				switch d := v.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					chunks <- StreamChunk{Text: d.Value}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					input.WriteString(aws.ToString(d.Value.Input))
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockStop:
				flush()
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					usage = TokenUsage{
						InputTokens:  int32OrZero(v.Value.Usage.InputTokens),
						OutputTokens: int32OrZero(v.Value.Usage.OutputTokens),
						TotalTokens:  int32OrZero(v.Value.Usage.TotalTokens),
					}
				}
			}
		}

		flush()
		if err := stream.Err(); err != nil {
			chunks <- StreamChunk{Error: err, Done: true}
			return
		}

		chunks <- StreamChunk{Done: true, Usage: usage}
	}()

	return chunks, nil
}

// AnalyzeImage sends the image as a Converse image block.
func (c *BedrockClient) AnalyzeImage(ctx context.Context, img Image, prompt string) (string, error) {
	resp, err := c.Complete(ctx, Request{
		Messages:    []Message{{Role: RoleUser, Content: prompt, Images: []Image{img}}},
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func bedrockExtractOutput(out *bedrockruntime.ConverseOutput) (Response, error) {
	if out == nil {
		return Response{}, errors.New("llm: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return Response{}, errors.New("llm: bedrock response did not include a message output")
	}
	if len(msgOut.Value.Content) == 0 {
		return Response{}, errors.New("llm: bedrock response message was empty")
	}

	var (
		builder strings.Builder
		calls   []ToolCall
	)
	for _, block := range msgOut.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			builder.WriteString(b.Value)
		case *brtypes.ContentBlockMemberToolUse:
			args := json.RawMessage(`{}`)
			if b.Value.Input != nil {
				if raw, err := b.Value.Input.MarshalSmithyDocument(); err == nil {
					args = raw
				}
			}
			calls = append(calls, ToolCall{
				ID:   aws.ToString(b.Value.ToolUseId),
				Name: aws.ToString(b.Value.Name),
				Args: args,
			})
		}
	}
	text := strings.TrimSpace(builder.String())
	if text == "" && len(calls) == 0 {
		return Response{}, errors.New("llm: bedrock response contained no text content blocks")
	}
	return Response{Text: text, ToolCalls: calls}, nil
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
