// Package llm adapts language model providers to a single completion contract.
package llm

import (
	"context"
	"encoding/json"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool is a function the model may decide to call.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object; empty means no arguments.
	Parameters json.RawMessage
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	Name      string
	Arguments string
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request is a provider-neutral completion request. A negative Temperature
// leaves the provider default in place.
type Request struct {
	Model       string
	System      []string
	Messages    []Message
	MaxTokens   int32
	Temperature float32
	Tools       []Tool
}

type Response struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      TokenUsage
	StopReason string
}

// Client completes chat requests.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

func schemaOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return raw
}
