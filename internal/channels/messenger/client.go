// Package messenger talks to the Meta Messenger Platform: the Send API, the
// user profile API and the page webhook.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/messenger-concierge/internal/observability/metrics"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
	"golang.org/x/time/rate"
)

const (
	DefaultGraphAPIBase = "https://graph.facebook.com/v21.0"
	defaultHTTPTimeout  = 10 * time.Second

	// TagConfirmedEventUpdate lets the page message outside the 24h window
	// about a confirmed booking.
	TagConfirmedEventUpdate = "CONFIRMED_EVENT_UPDATE"

	messagingTypeResponse   = "RESPONSE"
	messagingTypeMessageTag = "MESSAGE_TAG"
)

// ErrEmptyMessage is returned when asked to send blank text.
var ErrEmptyMessage = errors.New("messenger: empty message not sent")

// Client sends messages via the Meta Graph API.
type Client struct {
	pageAccessToken string
	graphAPIBase    string
	httpClient      *http.Client
	limiter         *rate.Limiter
	metrics         *metrics.ConciergeMetrics
	logger          *logging.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithGraphAPIBase overrides the Graph API base URL.
func WithGraphAPIBase(base string) ClientOption {
	return func(c *Client) {
		if base != "" {
			c.graphAPIBase = strings.TrimRight(base, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit caps outbound calls at perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithMetrics(m *metrics.ConciergeMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a new Graph API client.
func NewClient(pageAccessToken string, logger *logging.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		pageAccessToken: pageAccessToken,
		graphAPIBase:    DefaultGraphAPIBase,
		httpClient:      &http.Client{Timeout: defaultHTTPTimeout},
		logger:          logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendText sends a plain text reply.
func (c *Client) SendText(ctx context.Context, recipientID, text string) error {
	return c.sendText(ctx, recipientID, text, "")
}

// SendTaggedText sends text with a message tag, for messages outside the
// standard reply window.
func (c *Client) SendTaggedText(ctx context.Context, recipientID, text, tag string) error {
	return c.sendText(ctx, recipientID, text, tag)
}

// SendImage sends an image attachment by URL.
func (c *Client) SendImage(ctx context.Context, recipientID, imageURL string) error {
	req := SendRequest{
		Recipient:     Party{ID: recipientID},
		MessagingType: messagingTypeResponse,
		Message: SendMessage{Attachment: &Attachment{
			Type:    "image",
			Payload: AttachmentPayload{URL: imageURL, IsReusable: true},
		}},
	}
	_, err := c.send(ctx, req)
	c.metrics.ObserveOutbound("image", err)
	return err
}

func (c *Client) sendText(ctx context.Context, recipientID, text, tag string) error {
	if strings.TrimSpace(text) == "" {
		c.logger.Warn("messenger: refusing to send empty message", "recipient_id", recipientID)
		return ErrEmptyMessage
	}
	req := SendRequest{
		Recipient:     Party{ID: recipientID},
		MessagingType: messagingTypeResponse,
		Message:       SendMessage{Text: text},
	}
	kind := "text"
	if tag != "" {
		req.MessagingType = messagingTypeMessageTag
		req.Tag = tag
		kind = "tagged_text"
	}
	_, err := c.send(ctx, req)
	c.metrics.ObserveOutbound(kind, err)
	return err
}

// GetProfile fetches the user's first and last name.
func (c *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if err := c.wait(ctx); err != nil {
		return Profile{}, err
	}
	endpoint := fmt.Sprintf("%s/%s?fields=%s", c.graphAPIBase, url.PathEscape(userID), url.QueryEscape("first_name,last_name"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("messenger: create profile request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.pageAccessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Profile{}, fmt.Errorf("messenger: fetch profile: %w", err)
	}
	defer resp.Body.Close()

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("messenger: decode profile: %w", err)
	}
	if profile.Error != nil {
		return Profile{}, fmt.Errorf("messenger: API error %d: %s", profile.Error.Code, profile.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("messenger: unexpected profile status %d", resp.StatusCode)
	}
	return profile, nil
}

func (c *Client) send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("messenger: marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphAPIBase+"/me/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("messenger: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.pageAccessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("messenger: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("messenger: read response: %w", err)
	}

	var sendResp SendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return nil, fmt.Errorf("messenger: unmarshal response: %w", err)
	}
	if sendResp.Error != nil {
		return &sendResp, fmt.Errorf("messenger: API error %d: %s", sendResp.Error.Code, sendResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return &sendResp, fmt.Errorf("messenger: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return &sendResp, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("messenger: rate limit wait: %w", err)
	}
	return nil
}
