package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/messenger-concierge/internal/chatstore"
	"github.com/wolfman30/messenger-concierge/internal/customers"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// CustomerLookup reads a directory row.
type CustomerLookup interface {
	Get(ctx context.Context, userID string) (*customers.Customer, error)
}

// ConversationHandler shows a user's recent history to operators.
type ConversationHandler struct {
	history   chatstore.Store
	directory CustomerLookup
	logger    *logging.Logger
}

func NewConversationHandler(history chatstore.Store, directory CustomerLookup, logger *logging.Logger) *ConversationHandler {
	if history == nil {
		panic("handlers: chat store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ConversationHandler{history: history, directory: directory, logger: logger}
}

// MessageResponse is one history entry.
type MessageResponse struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ConversationResponse is a user's history plus directory state.
type ConversationResponse struct {
	UserID   string              `json:"user_id"`
	Customer *customers.Customer `json:"customer,omitempty"`
	Messages []MessageResponse   `json:"messages"`
}

// Get returns the recent history for {userID}.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	msgs, err := h.history.Recent(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load history", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	resp := ConversationResponse{UserID: userID, Messages: make([]MessageResponse, 0, len(msgs))}
	if h.directory != nil {
		c, err := h.directory.Get(r.Context(), userID)
		switch {
		case err == nil:
			resp.Customer = c
		case !errors.Is(err, customers.ErrNotFound):
			h.logger.Warn("customer lookup failed", "user_id", userID, "error", err)
		}
	}
	if len(msgs) == 0 && resp.Customer == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	for _, m := range msgs {
		item := MessageResponse{Role: m.Role, Content: m.Content}
		if !m.CreatedAt.IsZero() {
			item.Timestamp = m.CreatedAt.UTC().Format(time.RFC3339)
		}
		resp.Messages = append(resp.Messages, item)
	}
	writeJSON(w, http.StatusOK, resp)
}
