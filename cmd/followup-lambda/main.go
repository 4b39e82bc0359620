package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/messenger-concierge/internal/followup"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

const (
	runPath      = "/admin/followups/run"
	tokenSubject = "followup-lambda"
	tokenTTL     = 5 * time.Minute
)

type config struct {
	apiBaseURL string
	jwtSecret  string
	timeout    time.Duration
}

func loadConfig() (config, error) {
	baseURL := strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	if baseURL == "" {
		return config{}, errors.New("PUBLIC_BASE_URL is required")
	}
	secret := strings.TrimSpace(os.Getenv("ADMIN_JWT_SECRET"))
	if secret == "" {
		return config{}, errors.New("ADMIN_JWT_SECRET is required")
	}

	timeout := 5 * time.Minute
	if raw := strings.TrimSpace(os.Getenv("FOLLOW_UP_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return config{}, fmt.Errorf("invalid FOLLOW_UP_TIMEOUT: %w", err)
		}
		timeout = parsed
	}

	return config{
		apiBaseURL: strings.TrimRight(baseURL, "/"),
		jwtSecret:  secret,
		timeout:    timeout,
	}, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := logging.New(os.Getenv("LOG_LEVEL"))
	client := &http.Client{Timeout: cfg.timeout}

	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (followup.Report, error) {
		logger.Info("follow-up trigger received", "source", evt.Source, "event_id", evt.ID)
		report, err := trigger(ctx, cfg, client, time.Now())
		if err != nil {
			logger.Error("follow-up run failed", "error", err)
			return followup.Report{}, err
		}
		logger.Info("follow-up run complete",
			"eligible", report.Eligible,
			"inactive", report.Inactive,
			"sent", report.Sent,
			"failed", report.Failed,
		)
		return report, nil
	})
}

// trigger asks the API to run one follow-up sweep, authenticating with a
// short-lived admin token.
func trigger(ctx context.Context, cfg config, client *http.Client, now time.Time) (followup.Report, error) {
	token, err := signToken(cfg.jwtSecret, now)
	if err != nil {
		return followup.Report{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.apiBaseURL+runPath, nil)
	if err != nil {
		return followup.Report{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return followup.Report{}, fmt.Errorf("call api: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		// another sweep is still running; nothing to do this tick
		return followup.Report{}, nil
	default:
		return followup.Report{}, fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var report followup.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return followup.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

func signToken(secret string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
