package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, f.err
}

func (f *fakeConverse) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, errors.New("not implemented")
}

func TestBedrockClient_CompleteText(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: " Hola "}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(2), TotalTokens: aws.Int32(12)},
	}}
	c := NewBedrockClient(api, "anthropic.claude-3-haiku")

	resp, err := c.Complete(context.Background(), Request{
		System:      []string{"Eres un asesor."},
		Messages:    []Message{{Role: RoleSystem, Content: "extra"}, {Role: RoleUser, Content: "hola"}},
		Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hola", resp.Text)
	assert.Equal(t, int32(12), resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.input.ModelId))
	assert.Len(t, api.input.System, 2)
	assert.Len(t, api.input.Messages, 1)
}

func TestBedrockClient_CompleteToolUse(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String("tu-1"),
				Name:      aws.String("score_lead"),
				Input:     document.NewLazyDocument(map[string]any{"monthly_income": "5200"}),
			}}},
		}},
	}}
	c := NewBedrockClient(api, "m")

	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "gano 5200"}},
		Tools: []ToolDeclaration{{
			Name:       "score_lead",
			Parameters: &Schema{Type: "object", Properties: map[string]*Schema{"monthly_income": {Type: "string"}}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu-1", resp.ToolCalls[0].ID)
	assert.Equal(t, "score_lead", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"monthly_income":"5200"}`, string(resp.ToolCalls[0].Args))
	require.NotNil(t, api.input.ToolConfig)
	assert.Len(t, api.input.ToolConfig.Tools, 1)
}

func TestBedrockClient_RequiresModel(t *testing.T) {
	c := NewBedrockClient(&fakeConverse{}, "")
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.Error(t, err)
}

func TestBedrockClient_UnsupportedRole(t *testing.T) {
	c := NewBedrockClient(&fakeConverse{}, "m")
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "narrator", Content: "x"}}})
	assert.Error(t, err)
}

func TestSchemaMap(t *testing.T) {
	s := &Schema{
		Type:     "object",
		Required: []string{"status"},
		Properties: map[string]*Schema{
			"status": {Type: "string", Enum: []string{"contacted", "lost"}},
		},
	}
	m := s.Map()
	assert.Equal(t, "object", m["type"])
	props := m["properties"].(map[string]any)
	status := props["status"].(map[string]any)
	assert.Equal(t, []string{"contacted", "lost"}, status["enum"])
}
