package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// DefaultSchedule runs the sweep daily at 10:00.
const DefaultSchedule = "0 10 * * *"

// Job is anything the scheduler can trigger.
type Job interface {
	Run(ctx context.Context) (Report, error)
}

// Scheduler triggers a Job on a cron expression.
type Scheduler struct {
	expr   string
	job    Job
	logger *logging.Logger
	now    func() time.Time
}

// NewScheduler validates expr. An empty expr uses DefaultSchedule.
func NewScheduler(expr string, job Job, logger *logging.Logger) (*Scheduler, error) {
	if job == nil {
		panic("followup: job cannot be nil")
	}
	if expr == "" {
		expr = DefaultSchedule
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("followup: invalid schedule %q", expr)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{expr: expr, job: job, logger: logger, now: time.Now}, nil
}

// Next returns the first trigger strictly after ref.
func (s *Scheduler) Next(ref time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(s.expr, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("followup: next tick: %w", err)
	}
	return next, nil
}

// Start blocks, running the job at each tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting follow-up scheduler", "schedule", s.expr)
	for {
		next, err := s.Next(s.now())
		if err != nil {
			s.logger.Error("follow-up scheduler stopped", "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("follow-up scheduler shutting down")
			return
		case <-timer.C:
		}
		if _, err := s.job.Run(ctx); err != nil {
			s.logger.Error("scheduled follow-up run failed", "error", err)
		}
	}
}
