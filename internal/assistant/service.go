// Package assistant builds prompts from the knowledge store and chat history
// and asks the configured language model for replies.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/messenger-concierge/internal/chatstore"
	"github.com/wolfman30/messenger-concierge/internal/knowledge"
	"github.com/wolfman30/messenger-concierge/internal/llm"
	"github.com/wolfman30/messenger-concierge/internal/observability/metrics"
	"github.com/wolfman30/messenger-concierge/internal/reply"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("concierge.internal.assistant")

// CategoryBooking is the classifier label that short-circuits to a booking hand-off.
const CategoryBooking = "booking"

const faqHeader = "Available FAQ information:"

const defaultTemperature float32 = 0.7

// Options configures a Service.
type Options struct {
	// Model overrides the client's default model for replies.
	Model string
	// ClassifierModel overrides the model used by Classify.
	ClassifierModel string
	// Temperature for replies; nil uses 0.7. Zero is sent as zero.
	Temperature *float32
	Metrics     *metrics.ConciergeMetrics
	Logger      *logging.Logger
}

// Service answers users on behalf of the page.
type Service struct {
	client          llm.Client
	knowledge       knowledge.Source
	history         chatstore.Store
	model           string
	classifierModel string
	temperature     float32
	metrics         *metrics.ConciergeMetrics
	logger          *logging.Logger
}

// NewService wires the model client, knowledge source and history store.
func NewService(client llm.Client, source knowledge.Source, history chatstore.Store, opts Options) *Service {
	if client == nil {
		panic("assistant: llm client cannot be nil")
	}
	if source == nil {
		panic("assistant: knowledge source cannot be nil")
	}
	if history == nil {
		panic("assistant: chat store cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	temp := defaultTemperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	return &Service{
		client:          client,
		knowledge:       source,
		history:         history,
		model:           opts.Model,
		classifierModel: opts.ClassifierModel,
		temperature:     temp,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
	}
}

// Classify labels text with the classify prompt. The label is trimmed and
// lowercased.
func (s *Service) Classify(ctx context.Context, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "assistant.classify")
	defer span.End()

	prompt, err := s.knowledge.Prompt(ctx, knowledge.PromptClassify)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("assistant: load classify prompt: %w", err)
	}
	resp, err := s.complete(ctx, "classify", llm.Request{
		Model:       s.classifierModel,
		System:      []string{prompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature: 0,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("assistant: classify: %w", err)
	}
	label := strings.ToLower(strings.TrimSpace(resp.Text))
	span.SetAttributes(attribute.String("concierge.assistant.category", label))
	return label, nil
}

// Ask produces the reply for one consolidated user turn. A booking
// classification returns PlainReply{"booking"} without a second call.
func (s *Service) Ask(ctx context.Context, text, userID string) (reply.Reply, error) {
	ctx, span := tracer.Start(ctx, "assistant.ask")
	defer span.End()

	category, err := s.Classify(ctx, text)
	if err != nil {
		s.logger.Warn("assistant: classification failed, answering directly",
			"user_id", userID,
			"error", err,
		)
	} else if category == CategoryBooking {
		return reply.PlainReply{Text: CategoryBooking}, nil
	}

	history, err := s.history.Recent(ctx, userID)
	if err != nil {
		s.logger.Warn("assistant: history unavailable, answering without it",
			"user_id", userID,
			"error", err,
		)
		history = nil
	}

	system, err := s.systemPrompt(ctx, len(history) == 0)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	resp, err := s.complete(ctx, "ask", llm.Request{
		Model:       s.model,
		System:      []string{system},
		Messages:    messages,
		Temperature: s.temperature,
		Tools:       s.tools(ctx),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("assistant: ask: %w", err)
	}

	calls := make([]reply.ToolInvocation, 0, len(resp.ToolCalls))
	for _, c := range resp.ToolCalls {
		calls = append(calls, reply.ToolInvocation{Name: c.Name, Arguments: c.Arguments})
	}
	span.SetAttributes(attribute.Int("concierge.assistant.tool_calls", len(calls)))
	return reply.FromCompletion(resp.Text, calls), nil
}

// AskFollowUp drafts a re-engagement message for a user who has been quiet
// for hoursPassed hours. It fails with chatstore.ErrNoHistory when there is
// nothing to follow up on.
func (s *Service) AskFollowUp(ctx context.Context, userID string, hoursPassed int) (string, error) {
	ctx, span := tracer.Start(ctx, "assistant.follow_up")
	defer span.End()

	history, err := s.history.Recent(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("assistant: load history: %w", err)
	}
	if len(history) == 0 {
		return "", chatstore.ErrNoHistory
	}
	template, err := s.knowledge.Prompt(ctx, knowledge.PromptFollowUp)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("assistant: load follow-up prompt: %w", err)
	}

	resp, err := s.complete(ctx, "follow_up", llm.Request{
		Model:       s.model,
		System:      []string{FormatFollowUpPrompt(template, hoursPassed, history)},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "Write the follow-up message."}},
		Temperature: s.temperature,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("assistant: follow up: %w", err)
	}
	return resp.Text, nil
}

// FormatFollowUpPrompt fills {hours_passed} and {history_text} in template.
func FormatFollowUpPrompt(template string, hoursPassed int, history []chatstore.Message) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		if m.Role == "" || m.Content == "" {
			continue
		}
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.NewReplacer(
		"{hours_passed}", fmt.Sprint(hoursPassed),
		"{history_text}", strings.Join(lines, "\n"),
	).Replace(template)
}

func (s *Service) systemPrompt(ctx context.Context, firstContact bool) (string, error) {
	main, err := s.knowledge.Prompt(ctx, knowledge.PromptMain)
	if err != nil {
		return "", fmt.Errorf("assistant: load main prompt: %w", err)
	}
	var b strings.Builder
	b.WriteString(main)
	b.WriteString("\n")
	if firstContact {
		welcome, err := s.knowledge.Prompt(ctx, knowledge.PromptWelcome)
		switch {
		case err == nil:
			b.WriteString(welcome)
			b.WriteString("\n")
		case errors.Is(err, knowledge.ErrMissing):
		default:
			s.logger.Warn("assistant: welcome prompt unavailable", "error", err)
		}
	}
	b.WriteString(faqHeader)
	b.WriteString("\n")
	faq, err := s.knowledge.FAQ(ctx)
	if err != nil {
		s.logger.Warn("assistant: faq unavailable", "error", err)
	}
	b.WriteString(knowledge.FormatFAQ(faq))
	return b.String(), nil
}

func (s *Service) tools(ctx context.Context) []llm.Tool {
	defs, err := s.knowledge.Functions(ctx)
	if err != nil {
		s.logger.Warn("assistant: function definitions unavailable", "error", err)
		return nil
	}
	tools := make([]llm.Tool, 0, len(defs))
	for _, d := range defs {
		if strings.TrimSpace(d.Name) == "" {
			continue
		}
		tools = append(tools, llm.Tool{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return tools
}

func (s *Service) complete(ctx context.Context, op string, req llm.Request) (llm.Response, error) {
	start := time.Now()
	resp, err := s.client.Complete(ctx, req)
	s.metrics.ObserveCompletion(op, time.Since(start).Seconds(), err)
	return resp, err
}
