package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Messenger (Meta Graph API)
	PageID          string
	PageAccessToken string
	VerifyToken     string
	AppSecret       string
	GraphAPIBase    string
	SendRatePerSec  float64
	SendBurst       int

	// AI provider
	LLMProvider         string
	LLMFallbackProvider string
	OpenAIAPIKey        string
	OpenAIModel         string
	ClassifierModel     string
	Temperature         float32
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModelID       string

	// Inbound consolidation
	LedgerBackend      string
	DedupTTL           time.Duration
	DebounceWindow     time.Duration
	PermissionCacheTTL time.Duration
	OptimisticNewUser  bool

	// Reply routing
	FollowUpKeywords []string
	IntroImageURL    string
	IntroDelay       time.Duration
	FollowUpDelay    time.Duration
	PriceCanonical   int64
	PriceBands       string

	// Storage backends
	ChatStoreBackend  string
	ChatHistoryLimit  int
	KnowledgeSource   string
	KnowledgeBucket   string
	KnowledgeKey      string
	KnowledgeCacheTTL time.Duration

	// Booking hand-off
	BookingAckMessage        string
	BookingFallbackName      string
	BookingTable             string
	BookingQueueURL          string
	ArchiveBucket            string
	HandoffNotificationEmail string
	EmailProvider            string
	SendGridAPIKey           string
	EmailFromAddress         string
	EmailFromName            string

	// Scheduled follow-up
	FollowUpEnabled    bool
	FollowUpSchedule   string
	FollowUpInactivity time.Duration

	// Admin surface
	AdminJWTSecret     string
	AdminRatePerSec    float64
	AdminRateBurst     int
	CORSAllowedOrigins []string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// LoadDotEnv loads variables from the given .env files (or ./.env) into the
// process environment. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		PageID:          getEnv("FB_PAGE_ID", ""),
		PageAccessToken: getEnv("PAGE_ACCESS_TOKEN", ""),
		VerifyToken:     getEnv("VERIFY_TOKEN", ""),
		AppSecret:       getEnv("META_APP_SECRET", ""),
		GraphAPIBase:    getEnv("GRAPH_API_BASE", "https://graph.facebook.com/v21.0"),
		SendRatePerSec:  getEnvAsFloat("SEND_RATE_PER_SECOND", 10),
		SendBurst:       getEnvAsInt("SEND_BURST", 5),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:         getEnv("GPT_MODEL", "gpt-4o-mini"),
		ClassifierModel:     getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
		Temperature:         float32(getEnvAsFloat("LLM_TEMPERATURE", 0.7)),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		LedgerBackend:      strings.ToLower(getEnv("LEDGER_BACKEND", "memory")),
		DedupTTL:           getEnvAsDuration("DEDUP_TTL", 300*time.Second),
		DebounceWindow:     getEnvAsDuration("DEBOUNCE_WINDOW", 5*time.Second),
		PermissionCacheTTL: getEnvAsDuration("PERMISSION_CACHE_TTL", 300*time.Second),
		OptimisticNewUser:  getEnvAsBool("OPTIMISTIC_NEW_USER_PERMISSION", true),

		FollowUpKeywords: getEnvAsList("FOLLOW_UP_KEYWORDS", nil),
		IntroImageURL:    getEnv("INTRO_IMAGE_URL", "https://i.imgur.com/I0IFANJ.png"),
		IntroDelay:       getEnvAsDuration("INTRO_IMAGE_DELAY", 2*time.Second),
		FollowUpDelay:    getEnvAsDuration("FOLLOW_UP_SEND_DELAY", 3*time.Second),
		PriceCanonical:   int64(getEnvAsInt("PRICE_CANONICAL", 350000)),
		PriceBands:       getEnv("PRICE_BANDS", "300000-400000,3000000-4000000"),

		ChatStoreBackend:  strings.ToLower(getEnv("CHAT_STORE_BACKEND", "redis")),
		ChatHistoryLimit:  getEnvAsInt("CHAT_HISTORY_LIMIT", 20),
		KnowledgeSource:   strings.ToLower(getEnv("KNOWLEDGE_SOURCE", "postgres")),
		KnowledgeBucket:   getEnv("KNOWLEDGE_BUCKET", ""),
		KnowledgeKey:      getEnv("KNOWLEDGE_KEY", "knowledge/current.json"),
		KnowledgeCacheTTL: getEnvAsDuration("KNOWLEDGE_CACHE_TTL", 5*time.Minute),

		BookingAckMessage:        getEnv("BOOKING_ACK_MESSAGE", "Thank you for booking with us. Our team will contact you shortly to confirm your appointment."),
		BookingFallbackName:      getEnv("BOOKING_FALLBACK_NAME", "Customer"),
		BookingTable:             getEnv("BOOKING_TABLE", ""),
		BookingQueueURL:          getEnv("BOOKING_QUEUE_URL", ""),
		ArchiveBucket:            getEnv("ARCHIVE_BUCKET", ""),
		HandoffNotificationEmail: getEnv("HANDOFF_NOTIFICATION_EMAIL", ""),
		EmailProvider:            strings.ToLower(getEnv("EMAIL_PROVIDER", "")),
		SendGridAPIKey:           getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress:         getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:            getEnv("EMAIL_FROM_NAME", "Messenger Concierge"),

		FollowUpEnabled:    getEnvAsBool("FOLLOW_UP_ENABLED", true),
		FollowUpSchedule:   getEnv("FOLLOW_UP_SCHEDULE", "0 10 * * *"),
		FollowUpInactivity: getEnvAsDuration("FOLLOW_UP_INACTIVITY", 24*time.Hour),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		AdminRatePerSec:    getEnvAsFloat("ADMIN_RATE_PER_SECOND", 5),
		AdminRateBurst:     getEnvAsInt("ADMIN_RATE_BURST", 10),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// Validate reports missing credentials the server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.PageAccessToken) == "" {
		errs = append(errs, errors.New("config: PAGE_ACCESS_TOKEN is required"))
	}
	if strings.TrimSpace(c.VerifyToken) == "" {
		errs = append(errs, errors.New("config: VERIFY_TOKEN is required"))
	}
	switch c.LLMProvider {
	case "openai":
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			errs = append(errs, errors.New("config: OPENAI_API_KEY is required for the openai provider"))
		}
	case "bedrock":
		if strings.TrimSpace(c.BedrockModelID) == "" {
			errs = append(errs, errors.New("config: BEDROCK_MODEL_ID is required for the bedrock provider"))
		}
	case "gemini":
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			errs = append(errs, errors.New("config: GEMINI_API_KEY is required for the gemini provider"))
		}
	default:
		errs = append(errs, errors.New("config: LLM_PROVIDER must be one of openai, bedrock, gemini"))
	}
	if c.DebounceWindow <= 0 {
		errs = append(errs, errors.New("config: DEBOUNCE_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
