// Package reply turns raw assistant output into the messages actually sent
// to a Messenger user.
package reply

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// Reply is the normalised shape of an assistant response.
type Reply interface {
	isReply()
}

// PlainReply is free text.
type PlainReply struct {
	Text string
}

// ToolInvocation signals that the model asked to call a function.
type ToolInvocation struct {
	Name      string
	Arguments string
}

// MultiSegmentReply carries several ordered segments.
type MultiSegmentReply struct {
	Segments []Reply
}

func (PlainReply) isReply()        {}
func (ToolInvocation) isReply()    {}
func (MultiSegmentReply) isReply() {}

// HasToolInvocation reports whether r is, or contains, a tool invocation.
func HasToolInvocation(r Reply) bool {
	switch v := r.(type) {
	case ToolInvocation:
		return true
	case MultiSegmentReply:
		for _, seg := range v.Segments {
			if HasToolInvocation(seg) {
				return true
			}
		}
	}
	return false
}

// PlainSegments flattens r into its text segments, in order, skipping tool
// invocations.
func PlainSegments(r Reply) []string {
	switch v := r.(type) {
	case PlainReply:
		return []string{v.Text}
	case MultiSegmentReply:
		var out []string
		for _, seg := range v.Segments {
			out = append(out, PlainSegments(seg)...)
		}
		return out
	default:
		return nil
	}
}

// FromCompletion builds a Reply from a model's text content and tool calls.
func FromCompletion(content string, calls []ToolInvocation) Reply {
	if len(calls) == 0 {
		return PlainReply{Text: content}
	}
	segments := make([]Reply, 0, len(calls)+1)
	for _, c := range calls {
		segments = append(segments, c)
	}
	if strings.TrimSpace(content) != "" {
		segments = append(segments, PlainReply{Text: content})
	}
	return MultiSegmentReply{Segments: segments}
}

// Normalize converts a loosely typed response (as decoded from JSON) into a
// Reply. Accepted shapes are a string, an object with "content" and/or
// "function_call", and a list of those. Anything else becomes an empty
// PlainReply and is logged.
func Normalize(raw any, logger *logging.Logger) Reply {
	if logger == nil {
		logger = logging.Default()
	}
	switch v := raw.(type) {
	case string:
		return PlainReply{Text: v}
	case Reply:
		return v
	case map[string]any:
		if fc, ok := v["function_call"]; ok {
			return toolFromAny(fc)
		}
		if content, ok := v["content"]; ok {
			return Normalize(content, logger)
		}
	case []any:
		segments := make([]Reply, 0, len(v))
		for _, item := range v {
			segments = append(segments, Normalize(item, logger))
		}
		return MultiSegmentReply{Segments: segments}
	}
	logger.Warn("reply: unexpected response shape, using empty text", "type", fmt.Sprintf("%T", raw))
	return PlainReply{}
}

func toolFromAny(raw any) ToolInvocation {
	m, ok := raw.(map[string]any)
	if !ok {
		return ToolInvocation{}
	}
	name, _ := m["name"].(string)
	var args string
	switch a := m["arguments"].(type) {
	case string:
		args = a
	case nil:
	default:
		if data, err := json.Marshal(a); err == nil {
			args = string(data)
		}
	}
	return ToolInvocation{Name: name, Arguments: args}
}
