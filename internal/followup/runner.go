// Package followup sends one re-engagement message to customers whose
// conversation has gone quiet.
package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/messenger-concierge/internal/channels/messenger"
	"github.com/wolfman30/messenger-concierge/internal/chatstore"
	"github.com/wolfman30/messenger-concierge/internal/observability/metrics"
	"github.com/wolfman30/messenger-concierge/internal/reply"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("concierge.internal.followup")

// DefaultInactivity is how long a conversation must be idle before a follow-up.
const DefaultInactivity = 24 * time.Hour

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = errors.New("followup: run already in progress")

// Eligibility is the per-user follow-up switch kept in the customer directory.
type Eligibility interface {
	FollowUpEligible(ctx context.Context) ([]string, error)
	SetFollowUp(ctx context.Context, userIDs []string, on bool) error
}

// Writer drafts the follow-up text for a user.
type Writer interface {
	AskFollowUp(ctx context.Context, userID string, hoursPassed int) (string, error)
}

// Sender delivers tagged messages outside the standard messaging window.
type Sender interface {
	SendTaggedText(ctx context.Context, userID, text, tag string) error
}

// Report summarises one run.
type Report struct {
	Eligible int      `json:"eligible"`
	Inactive int      `json:"inactive"`
	Sent     int      `json:"sent"`
	Failed   int      `json:"failed"`
	UserIDs  []string `json:"user_ids,omitempty"`
}

// Runner performs follow-up sweeps. Safe for concurrent use; overlapping runs
// are refused.
type Runner struct {
	history     chatstore.Store
	eligibility Eligibility
	writer      Writer
	sender      Sender
	inactivity  time.Duration
	tag         string
	metrics     *metrics.ConciergeMetrics
	logger      *logging.Logger
	now         func() time.Time

	running sync.Mutex
}

// Option customises a Runner.
type Option func(*Runner)

// WithInactivity sets the idle threshold.
func WithInactivity(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.inactivity = d
		}
	}
}

// WithMetrics records per-user outcomes.
func WithMetrics(m *metrics.ConciergeMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner wires a runner.
func NewRunner(history chatstore.Store, eligibility Eligibility, writer Writer, sender Sender, logger *logging.Logger, opts ...Option) *Runner {
	if history == nil {
		panic("followup: chat store cannot be nil")
	}
	if eligibility == nil {
		panic("followup: eligibility store cannot be nil")
	}
	if writer == nil {
		panic("followup: writer cannot be nil")
	}
	if sender == nil {
		panic("followup: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Runner{
		history:     history,
		eligibility: eligibility,
		writer:      writer,
		sender:      sender,
		inactivity:  DefaultInactivity,
		tag:         messenger.TagConfirmedEventUpdate,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sends a follow-up to every eligible user idle longer than the
// threshold, then switches follow-ups off for the whole eligible set so each
// user gets at most one per eligibility window.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if !r.running.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer r.running.Unlock()

	ctx, span := tracer.Start(ctx, "followup.run")
	defer span.End()

	var report Report
	eligible, err := r.eligibility.FollowUpEligible(ctx)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("followup: list eligible: %w", err)
	}
	report.Eligible = len(eligible)
	if len(eligible) == 0 {
		r.logger.Info("followup: no eligible users")
		return report, nil
	}

	now := r.now().UTC()
	inactive, err := r.history.ListInactive(ctx, now.Add(-r.inactivity))
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("followup: list inactive: %w", err)
	}

	allowed := make(map[string]struct{}, len(eligible))
	for _, id := range eligible {
		allowed[id] = struct{}{}
	}

	for _, act := range inactive {
		if _, ok := allowed[act.UserID]; !ok {
			continue
		}
		report.Inactive++
		hours := int(now.Sub(act.UpdatedAt) / time.Hour)
		if err := r.remind(ctx, act.UserID, hours); err != nil {
			report.Failed++
			r.metrics.ObserveFollowUp("failed")
			r.logger.Error("followup: reminder failed",
				"user_id", act.UserID,
				"hours_passed", hours,
				"error", err,
			)
			continue
		}
		report.Sent++
		report.UserIDs = append(report.UserIDs, act.UserID)
		r.metrics.ObserveFollowUp("sent")
	}

	if err := r.eligibility.SetFollowUp(ctx, eligible, false); err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("followup: disable eligibility: %w", err)
	}

	span.SetAttributes(
		attribute.Int("followup.eligible", report.Eligible),
		attribute.Int("followup.sent", report.Sent),
	)
	r.logger.Info("followup: run complete",
		"eligible", report.Eligible,
		"inactive", report.Inactive,
		"sent", report.Sent,
		"failed", report.Failed,
	)
	return report, nil
}

func (r *Runner) remind(ctx context.Context, userID string, hours int) error {
	text, err := r.writer.AskFollowUp(ctx, userID, hours)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(reply.Emphasize(text))
	if text == "" {
		return errors.New("followup: empty follow-up text")
	}
	return r.sender.SendTaggedText(ctx, userID, text, r.tag)
}
