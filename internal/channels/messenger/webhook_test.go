package messenger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/wolfman30/messenger-concierge/internal/inbound"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

type recordingSink struct {
	mu     sync.Mutex
	events []inbound.Event
}

func (s *recordingSink) Accept(_ context.Context, ev inbound.Event) inbound.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return inbound.OutcomeDeferred
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "test_app_secret"
	body := []byte(`{"object":"page","entry":[]}`)
	validSig := sign(secret, body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		want      bool
	}{
		{"valid signature", secret, body, validSig, true},
		{"wrong signature", secret, body, "sha256=0000000000000000000000000000000000000000000000000000000000000000", false},
		{"empty signature", secret, body, "", false},
		{"empty secret", "", body, validSig, false},
		{"missing prefix", secret, body, "abcdef", false},
		{"tampered body", secret, []byte(`tampered`), validSig, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleVerification(t *testing.T) {
	h := NewWebhookHandler("my_verify_token", "", &recordingSink{}, logging.Discard())

	t.Run("valid challenge", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhook?hub.mode=subscribe&hub.verify_token=my_verify_token&hub.challenge=CHALLENGE_123", nil)
		w := httptest.NewRecorder()
		h.HandleVerification(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if w.Body.String() != "CHALLENGE_123" {
			t.Fatalf("expected CHALLENGE_123, got %s", w.Body.String())
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=X", nil)
		w := httptest.NewRecorder()
		h.HandleVerification(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
	})

	t.Run("wrong mode", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhook?hub.mode=unsubscribe&hub.verify_token=my_verify_token&hub.challenge=X", nil)
		w := httptest.NewRecorder()
		h.HandleVerification(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
	})
}

const pagePayload = `{
  "object": "page",
  "entry": [{
    "id": "PAGE",
    "time": 1700000000000,
    "messaging": [
      {"sender": {"id": "USER"}, "recipient": {"id": "PAGE"}, "timestamp": 1700000000000,
       "message": {"mid": "m1", "text": "Hi"}},
      {"sender": {"id": "PAGE"}, "recipient": {"id": "USER"}, "timestamp": 1700000000001,
       "message": {"mid": "m2", "text": "echo", "is_echo": true}},
      {"sender": {"id": "USER"}, "recipient": {"id": "PAGE"}, "timestamp": 1700000000002,
       "delivery": {"mids": ["m0"]}},
      {"sender": {"id": "USER"}, "recipient": {"id": "PAGE"}, "timestamp": 1700000000003,
       "message": {"text": "there"}}
    ]
  }]
}`

func TestHandleInbound(t *testing.T) {
	sink := &recordingSink{}
	h := NewWebhookHandler("verify", "", sink, logging.Discard())

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(pagePayload))
	w := httptest.NewRecorder()
	h.HandleInbound(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "EVENT_RECEIVED" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}
	first := sink.events[0]
	if first.MessageID != "m1" || first.SenderID != "USER" || first.RecipientID != "PAGE" || first.Text != "Hi" {
		t.Errorf("unexpected first event %+v", first)
	}
	if sink.events[1].MessageID != "" || sink.events[1].Text != "there" {
		t.Errorf("unexpected second event %+v", sink.events[1])
	}
}

func TestHandleInboundRejectsNonPage(t *testing.T) {
	sink := &recordingSink{}
	h := NewWebhookHandler("verify", "", sink, logging.Discard())

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"object":"instagram","entry":[]}`))
	w := httptest.NewRecorder()
	h.HandleInbound(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no events")
	}
}

func TestHandleInboundSignature(t *testing.T) {
	sink := &recordingSink{}
	h := NewWebhookHandler("verify", "secret", sink, logging.Discard())
	body := []byte(pagePayload)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	h.HandleInbound(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("secret", body))
	w = httptest.NewRecorder()
	h.HandleInbound(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}
}

func TestHandleInboundBadJSON(t *testing.T) {
	h := NewWebhookHandler("verify", "", &recordingSink{}, logging.Discard())
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{not json`))
	w := httptest.NewRecorder()
	h.HandleInbound(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
