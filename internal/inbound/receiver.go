package inbound

import (
	"context"
	"strings"

	"github.com/wolfman30/messenger-concierge/internal/observability/metrics"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// Receiver is the first stage for every decoded webhook event. It drops
// self-echoes and redeliveries and forwards the rest to the coalescer.
type Receiver struct {
	ledger    Ledger
	coalescer *Coalescer
	metrics   *metrics.ConciergeMetrics
	logger    *logging.Logger
	onDefer   func(senderID string)
}

// ReceiverOption customises a Receiver.
type ReceiverOption func(*Receiver)

// WithDeferredHook is called with the sender id whenever a fragment is
// buffered.
func WithDeferredHook(fn func(senderID string)) ReceiverOption {
	return func(r *Receiver) {
		r.onDefer = fn
	}
}

// NewReceiver wires a receiver. metrics may be nil.
func NewReceiver(ledger Ledger, coalescer *Coalescer, m *metrics.ConciergeMetrics, logger *logging.Logger, opts ...ReceiverOption) *Receiver {
	if ledger == nil {
		panic("inbound: ledger cannot be nil")
	}
	if coalescer == nil {
		panic("inbound: coalescer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Receiver{ledger: ledger, coalescer: coalescer, metrics: m, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Accept processes one event and reports what happened to it.
func (r *Receiver) Accept(ctx context.Context, evt Event) Outcome {
	outcome := r.accept(ctx, evt)
	r.metrics.ObserveInbound(outcome.String())
	return outcome
}

func (r *Receiver) accept(ctx context.Context, evt Event) Outcome {
	sender := strings.TrimSpace(evt.SenderID)
	if sender == "" {
		r.logger.Warn("inbound: event without sender dropped", "message_id", evt.MessageID)
		return OutcomeSuppressed
	}
	if sender == strings.TrimSpace(evt.RecipientID) {
		r.logger.Debug("inbound: self-echo ignored", "sender_id", sender)
		return OutcomeSuppressed
	}
	if evt.MessageID == "" {
		r.logger.Info("inbound: message without mid, dedup skipped", "sender_id", sender)
	} else if r.ledger.SeenOrMark(ctx, evt.MessageID) {
		r.logger.Info("inbound: duplicate delivery ignored",
			"sender_id", sender,
			"message_id", evt.MessageID,
		)
		return OutcomeSuppressed
	}
	outcome := r.coalescer.OnFragment(sender, evt.Text)
	if outcome == OutcomeDeferred && r.onDefer != nil {
		r.onDefer(sender)
	}
	return outcome
}
