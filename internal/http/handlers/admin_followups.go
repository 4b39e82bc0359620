package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wolfman30/messenger-concierge/internal/followup"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// FollowUpRunner performs one follow-up sweep.
type FollowUpRunner interface {
	Run(ctx context.Context) (followup.Report, error)
}

// FollowUpHandler exposes the sweep to operators and the scheduled Lambda.
type FollowUpHandler struct {
	runner FollowUpRunner
	logger *logging.Logger
}

func NewFollowUpHandler(runner FollowUpRunner, logger *logging.Logger) *FollowUpHandler {
	if runner == nil {
		panic("handlers: follow-up runner cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FollowUpHandler{runner: runner, logger: logger}
}

// Run triggers a sweep and returns its report.
func (h *FollowUpHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.Run(r.Context())
	if errors.Is(err, followup.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "follow-up run already in progress")
		return
	}
	if err != nil {
		h.logger.Error("follow-up run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "follow-up run failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
