package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/wolfman30/messenger-concierge/internal/booking"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

const (
	defaultBookingLimit = 50
	maxBookingLimit     = 500
)

// BookingLister returns the newest booking records.
type BookingLister interface {
	List(ctx context.Context, limit int) ([]booking.Record, error)
}

// BookingHandler lists hand-offs for staff.
type BookingHandler struct {
	bookings BookingLister
	logger   *logging.Logger
}

func NewBookingHandler(bookings BookingLister, logger *logging.Logger) *BookingHandler {
	if bookings == nil {
		panic("handlers: booking lister cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{bookings: bookings, logger: logger}
}

// List handles GET /admin/bookings?limit=N.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultBookingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxBookingLimit)
	}

	records, err := h.bookings.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list bookings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list bookings")
		return
	}
	if records == nil {
		records = []booking.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": records})
}
