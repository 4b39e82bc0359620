// Package knowledge serves the prompts, FAQ, canned messages and function
// definitions that shape the assistant's replies.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMissing is returned when a requested prompt or message is not configured.
var ErrMissing = errors.New("knowledge: not found")

// Prompt kinds.
const (
	PromptMain     = "main"
	PromptFollowUp = "follow-up"
	PromptWelcome  = "welcome"
	PromptClassify = "classify"
)

// MessageIntroduce is the canned message sent before the clinic image.
const MessageIntroduce = "introduce"

// FAQEntry is one question with a string, object or list answer.
type FAQEntry struct {
	Question string          `json:"question"`
	Answer   json.RawMessage `json:"answer"`
}

// FunctionDef is a function the model may call.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Source reads knowledge.
type Source interface {
	Prompt(ctx context.Context, kind string) (string, error)
	ConstantMessage(ctx context.Context, kind string) (string, error)
	FAQ(ctx context.Context) ([]FAQEntry, error)
	Functions(ctx context.Context) ([]FunctionDef, error)
}

// Snapshot is a complete knowledge document; it is also a Source.
type Snapshot struct {
	Prompts      map[string]string `json:"prompts"`
	Messages     map[string]string `json:"messages"`
	FAQEntries   []FAQEntry        `json:"faq"`
	FunctionDefs []FunctionDef     `json:"functions"`
}

func (s *Snapshot) Prompt(_ context.Context, kind string) (string, error) {
	if p, ok := s.Prompts[kind]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: prompt %q", ErrMissing, kind)
}

func (s *Snapshot) ConstantMessage(_ context.Context, kind string) (string, error) {
	if m, ok := s.Messages[kind]; ok {
		return m, nil
	}
	return "", fmt.Errorf("%w: message %q", ErrMissing, kind)
}

func (s *Snapshot) FAQ(context.Context) ([]FAQEntry, error) {
	return s.FAQEntries, nil
}

func (s *Snapshot) Functions(context.Context) ([]FunctionDef, error) {
	return s.FunctionDefs, nil
}

// FormatFAQ renders entries as "question: answer" lines. Object answers
// become "- key: value" lines; list answers are joined with "; ". Entries
// with a blank question or answer are skipped.
func FormatFAQ(entries []FAQEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		q := strings.TrimSpace(e.Question)
		a := formatAnswer(e.Answer)
		if q == "" || a == "" {
			continue
		}
		lines = append(lines, q+": "+a)
	}
	return strings.Join(lines, "\n")
}

func formatAnswer(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return strings.TrimSpace(string(raw))
	}
	switch a := v.(type) {
	case string:
		return strings.TrimSpace(a)
	case map[string]any:
		return "\n" + formatObjectLines(a)
	case []any:
		var parts []string
		collectListItems(a, &parts)
		return strings.Join(parts, "; ")
	case nil:
		return ""
	default:
		return fmt.Sprint(a)
	}
}

func formatObjectLines(m map[string]any) string {
	keys := sortedKeys(m)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, m[k]))
	}
	return strings.Join(lines, "\n")
}

func collectListItems(items []any, out *[]string) {
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			keys := sortedKeys(v)
			pairs := make([]string, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, fmt.Sprintf("%s: %v", k, v[k]))
			}
			*out = append(*out, strings.Join(pairs, ", "))
		case []any:
			collectListItems(v, out)
		case string:
			*out = append(*out, v)
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
