package messenger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/messenger-concierge/internal/inbound"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

const maxWebhookBody = 1 << 20

// EventSink receives each decoded inbound message.
type EventSink interface {
	Accept(ctx context.Context, ev inbound.Event) inbound.Outcome
}

// WebhookHandler handles Messenger webhook verification and inbound messages.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	sink        EventSink
	logger      *logging.Logger
}

// NewWebhookHandler creates a webhook handler. An empty appSecret disables
// signature checks.
func NewWebhookHandler(verifyToken, appSecret string, sink EventSink, logger *logging.Logger) *WebhookHandler {
	if sink == nil {
		panic("messenger: event sink cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		sink:        sink,
		logger:      logger,
	}
}

// HandleVerification handles the GET webhook verification challenge from Meta.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.verifyToken {
		h.logger.Info("messenger: webhook verified")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	http.Error(w, "Verification failed", http.StatusForbidden)
}

// HandleInbound handles POST webhook events.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.appSecret != "" && !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("messenger: webhook signature mismatch")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if event.Object != "page" {
		http.Error(w, "Not a page object", http.StatusNotFound)
		return
	}

	// Must respond 200 quickly to avoid Meta retries
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "EVENT_RECEIVED")

	ctx := context.WithoutCancel(r.Context())
	for _, ev := range ParseWebhookEvent(event) {
		outcome := h.sink.Accept(ctx, ev)
		h.logger.Debug("messenger: inbound event accepted",
			"sender_id", ev.SenderID,
			"message_id", ev.MessageID,
			"outcome", outcome.String(),
		)
	}
}

// ParseWebhookEvent extracts inbound events with text. Non-message entries
// and page echoes are skipped.
func ParseWebhookEvent(event WebhookEvent) []inbound.Event {
	var events []inbound.Event
	for _, entry := range event.Entry {
		for _, m := range entry.Messaging {
			if m.Message == nil || m.Message.IsEcho {
				continue
			}
			events = append(events, inbound.Event{
				MessageID:   m.Message.MID,
				SenderID:    m.Sender.ID,
				RecipientID: m.Recipient.ID,
				Text:        m.Message.Text,
				Timestamp:   time.UnixMilli(m.Timestamp),
			})
		}
	}
	return events
}

// VerifySignature verifies the X-Hub-Signature-256 header.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}

	const prefix = "sha256="
	if len(signature) <= len(prefix) || signature[:len(prefix)] != prefix {
		return false
	}
	sigHex := signature[len(prefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sigHex))
}
