package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

func request(method, path string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath: path,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method:   method,
				Path:     path,
				SourceIP: "203.0.113.7",
			},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	cfg := config{upstreamBaseURL: "http://example.com", upstreamTimeout: time.Second}
	resp, err := handle(context.Background(), cfg, &http.Client{Timeout: time.Second}, request(http.MethodGet, "/health"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Body != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", resp.StatusCode, resp.Body)
	}
}

func TestHandleRejectsUnknownPathAndMethod(t *testing.T) {
	cfg := config{upstreamBaseURL: "http://example.com", upstreamTimeout: time.Second}
	client := &http.Client{Timeout: time.Second}

	resp, _ := handle(context.Background(), cfg, client, request(http.MethodPost, "/other"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp, _ = handle(context.Background(), cfg, client, request(http.MethodPut, webhookPath))
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHandleForwardsVerification(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.RawQuery != "hub.mode=subscribe&hub.challenge=42" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte("42"))
	}))
	defer upstream.Close()

	cfg := config{upstreamBaseURL: upstream.URL, upstreamTimeout: time.Second}
	evt := request(http.MethodGet, webhookPath)
	evt.RawQueryString = "hub.mode=subscribe&hub.challenge=42"

	resp, err := handle(context.Background(), cfg, upstream.Client(), evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Body != "42" {
		t.Fatalf("expected challenge echo, got %d %q", resp.StatusCode, resp.Body)
	}
}

func TestHandleForwardsSignedEvent(t *testing.T) {
	payload := `{"object":"page","entry":[]}`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != payload {
			t.Errorf("unexpected body %q", body)
		}
		if got := r.Header.Get("X-Hub-Signature-256"); got != "sha256=abc" {
			t.Errorf("signature not forwarded: %q", got)
		}
		if got := r.Header.Get("X-Real-IP"); got != "203.0.113.7" {
			t.Errorf("source ip not forwarded: %q", got)
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("EVENT_RECEIVED"))
	}))
	defer upstream.Close()

	cfg := config{upstreamBaseURL: upstream.URL, upstreamTimeout: time.Second}
	evt := request(http.MethodPost, webhookPath)
	evt.Body = base64.StdEncoding.EncodeToString([]byte(payload))
	evt.IsBase64Encoded = true
	evt.Headers = map[string]string{
		"Content-Type":        "application/json",
		"X-Hub-Signature-256": "sha256=abc",
	}

	resp, err := handle(context.Background(), cfg, upstream.Client(), evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Body != "EVENT_RECEIVED" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Body)
	}
	if resp.Headers["content-type"] != "text/plain" {
		t.Fatalf("content type not propagated: %v", resp.Headers)
	}
}

func TestHandleBadBase64(t *testing.T) {
	cfg := config{upstreamBaseURL: "http://example.com", upstreamTimeout: time.Second}
	evt := request(http.MethodPost, webhookPath)
	evt.Body = "!!!"
	evt.IsBase64Encoded = true
	resp, _ := handle(context.Background(), cfg, &http.Client{}, evt)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
