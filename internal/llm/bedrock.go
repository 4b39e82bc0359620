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
}

// BedrockClient implements Client with the Bedrock Converse API.
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

func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = c.modelID
	}
	if strings.TrimSpace(model) == "" {
		return Response{}, errors.New("llm: bedrock model id is required")
	}

	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case RoleSystem:
			systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: content})
		case RoleUser:
			messages = appendBedrockText(messages, brtypes.ConversationRoleUser, content)
		case RoleAssistant:
			messages = appendBedrockText(messages, brtypes.ConversationRoleAssistant, content)
		default:
			return Response{}, fmt.Errorf("llm: unsupported role %q", msg.Role)
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
	if inference.MaxTokens == nil && inference.Temperature == nil {
		inference = nil
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		System:          systemBlocks,
		Messages:        messages,
		InferenceConfig: inference,
	}
	if len(req.Tools) > 0 {
		toolConfig, err := bedrockTools(req.Tools)
		if err != nil {
			return Response{}, err
		}
		input.ToolConfig = toolConfig
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return Response{}, fmt.Errorf("llm: bedrock converse failed: %w", err)
	}
	return bedrockResponse(out)
}

// appendBedrockText merges consecutive same-role turns; Converse rejects them.
func appendBedrockText(messages []brtypes.Message, role brtypes.ConversationRole, text string) []brtypes.Message {
	block := &brtypes.ContentBlockMemberText{Value: text}
	if n := len(messages); n > 0 && messages[n-1].Role == role {
		messages[n-1].Content = append(messages[n-1].Content, block)
		return messages
	}
	return append(messages, brtypes.Message{Role: role, Content: []brtypes.ContentBlock{block}})
}

func bedrockTools(tools []Tool) (*brtypes.ToolConfiguration, error) {
	cfg := &brtypes.ToolConfiguration{}
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(schemaOrEmpty(t.Parameters), &schema); err != nil {
			return nil, fmt.Errorf("llm: invalid schema for tool %q: %w", t.Name, err)
		}
		spec := brtypes.ToolSpecification{
			Name:        aws.String(t.Name),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}
		if t.Description != "" {
			spec.Description = aws.String(t.Description)
		}
		cfg.Tools = append(cfg.Tools, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	return cfg, nil
}

func bedrockResponse(out *bedrockruntime.ConverseOutput) (Response, error) {
	if out == nil {
		return Response{}, errors.New("llm: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return Response{}, errors.New("llm: bedrock response did not include a message output")
	}

	var resp Response
	var text strings.Builder
	for _, block := range msgOut.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			text.WriteString(b.Value)
		case *brtypes.ContentBlockMemberToolUse:
			call := ToolCall{Name: aws.ToString(b.Value.Name)}
			if b.Value.Input != nil {
				if args, err := b.Value.Input.MarshalSmithyDocument(); err == nil {
					call.Arguments = string(args)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, call)
		}
	}
	resp.Text = strings.TrimSpace(text.String())
	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return Response{}, errors.New("llm: bedrock response contained no text or tool use")
	}
	resp.StopReason = string(out.StopReason)
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}
	return resp, nil
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
