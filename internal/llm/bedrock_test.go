package llm

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, f.err
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(5), OutputTokens: aws.Int32(2), TotalTokens: aws.Int32(7)},
	}
}

func TestBedrockClient_DefaultsModelAndMergesTurns(t *testing.T) {
	fake := &fakeConverse{out: textOutput(" hello ")}
	client := NewBedrockClient(fake, "anthropic.claude-3-haiku")

	resp, err := client.Complete(context.Background(), Request{
		System: []string{"system prompt"},
		Messages: []Message{
			{Role: RoleUser, Content: "one"},
			{Role: RoleUser, Content: "two"},
			{Role: RoleAssistant, Content: "reply"},
			{Role: RoleUser, Content: "three"},
		},
		Temperature: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, int32(7), resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(fake.input.ModelId))
	require.Len(t, fake.input.System, 1)
	require.Len(t, fake.input.Messages, 3)
	assert.Len(t, fake.input.Messages[0].Content, 2)
	require.NotNil(t, fake.input.InferenceConfig)
	assert.Equal(t, float32(0.5), aws.ToFloat32(fake.input.InferenceConfig.Temperature))
	assert.Nil(t, fake.input.ToolConfig)
}

func TestBedrockClient_ToolsAndToolUse(t *testing.T) {
	fake := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				Name:      aws.String("show_menu"),
				ToolUseId: aws.String("t1"),
			}}},
		}},
	}}
	client := NewBedrockClient(fake, "model")

	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "menu"}},
		Tools:    []Tool{{Name: "show_menu", Description: "menu", Parameters: []byte(`{"type":"object"}`)}},
	})
	require.NoError(t, err)
	require.NotNil(t, fake.input.ToolConfig)
	assert.Len(t, fake.input.ToolConfig.Tools, 1)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "show_menu", resp.ToolCalls[0].Name)
}

func TestBedrockClient_Errors(t *testing.T) {
	client := NewBedrockClient(&fakeConverse{out: textOutput("x")}, "")
	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.Error(t, err)

	client = NewBedrockClient(&fakeConverse{out: textOutput("  ")}, "m")
	_, err = client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.Error(t, err)

	_, err = client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Tools:    []Tool{{Name: "bad", Parameters: []byte(`{not json`)}},
	})
	assert.Error(t, err)
}
