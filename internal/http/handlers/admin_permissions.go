package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/messenger-concierge/internal/customers"
	"github.com/wolfman30/messenger-concierge/internal/http/middleware"
	"github.com/wolfman30/messenger-concierge/internal/permission"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// ChatbotSwitch persists the per-user auto-reply flag.
type ChatbotSwitch interface {
	SetChatbot(ctx context.Context, userID string, on bool) error
}

// PermissionHandler lets operators inspect and override auto-reply decisions.
type PermissionHandler struct {
	cache     *permission.Cache
	directory ChatbotSwitch
	logger    *logging.Logger
}

// NewPermissionHandler wires the handler.
func NewPermissionHandler(cache *permission.Cache, directory ChatbotSwitch, logger *logging.Logger) *PermissionHandler {
	if cache == nil {
		panic("handlers: permission cache cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PermissionHandler{cache: cache, directory: directory, logger: logger}
}

// PermissionResponse describes a cached decision.
type PermissionResponse struct {
	UserID   string `json:"user_id"`
	Allowed  bool   `json:"allowed"`
	CachedAt string `json:"cached_at"`
}

// Invalidate evicts the cached decision for {userID}. It answers 404
// {"status":"not found"} when nothing fresh was cached.
func (h *PermissionHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if !h.cache.Invalidate(userID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not found"})
		return
	}
	operator, _ := middleware.OperatorFromContext(r.Context())
	h.logger.Info("permission invalidated", "user_id", userID, "operator", operator)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Get returns the cached decision for {userID}.
func (h *PermissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	entry, ok := h.cache.Lookup(userID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, PermissionResponse{
		UserID:   entry.UserID,
		Allowed:  entry.Allowed,
		CachedAt: entry.CachedAt.UTC().Format(time.RFC3339),
	})
}

type setPermissionRequest struct {
	ChatbotOn *bool `json:"chatbot_on"`
}

// Set turns auto-reply on or off for {userID}, in the directory and the cache.
func (h *PermissionHandler) Set(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	var req setPermissionRequest
	if err := decodeBody(w, r, &req); err != nil || req.ChatbotOn == nil {
		writeError(w, http.StatusBadRequest, "chatbot_on is required")
		return
	}
	if h.directory != nil {
		if err := h.directory.SetChatbot(r.Context(), userID, *req.ChatbotOn); err != nil {
			if errors.Is(err, customers.ErrNotFound) {
				writeError(w, http.StatusNotFound, "customer not found")
				return
			}
			h.logger.Error("failed to set chatbot flag", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update customer")
			return
		}
	}
	h.cache.Set(userID, *req.ChatbotOn)
	operator, _ := middleware.OperatorFromContext(r.Context())
	h.logger.Info("permission set", "user_id", userID, "chatbot_on", *req.ChatbotOn, "operator", operator)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
