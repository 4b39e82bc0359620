package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var openaiTracer = otel.Tracer("concierge.internal.llm.openai")

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client with the Chat Completions API, including
// function tools.
type OpenAIClient struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewOpenAIClient builds a client from an API key.
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: openai api key is required")
	}
	return NewOpenAIClientWith(openai.NewClient(apiKey), model), nil
}

// NewOpenAIClientWith wraps an existing chat client.
func NewOpenAIClientWith(client chatClient, model string) *OpenAIClient {
	if client == nil {
		panic("llm: openai chat client cannot be nil")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{client: client, model: model, timeout: 30 * time.Second}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := openaiTracer.Start(ctx, "llm.openai.complete")
	defer span.End()

	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = c.model
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.System)+len(req.Messages))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: block})
	}
	for _, m := range req.Messages {
		role := m.Role
		switch role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return Response{}, fmt.Errorf("llm: unsupported role %q", m.Role)
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	switch {
	case req.Temperature > 0:
		creq.Temperature = req.Temperature
	case req.Temperature == 0:
		// zero is dropped by omitempty and the API would apply its default of 1
		creq.Temperature = math.SmallestNonzeroFloat32
	}
	if req.MaxTokens > 0 {
		creq.MaxTokens = int(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		creq.Tools = make([]openai.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			creq.Tools = append(creq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  schemaOrEmpty(t.Parameters),
				},
			})
		}
		creq.ToolChoice = "auto"
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, creq)
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("llm: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("llm: openai returned no choices")
		span.RecordError(err)
		return Response{}, err
	}

	choice := resp.Choices[0]
	out := Response{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: string(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	if fc := choice.Message.FunctionCall; fc != nil {
		out.ToolCalls = append(out.ToolCalls, ToolCall{Name: fc.Name, Arguments: fc.Arguments})
	}
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("concierge.llm.model", model),
			attribute.Int("concierge.llm.tool_calls", len(out.ToolCalls)),
		)
	}
	return out, nil
}
