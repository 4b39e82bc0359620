// Package bootstrap wires the concierge's collaborators from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/messenger-concierge/internal/api/router"
	"github.com/wolfman30/messenger-concierge/internal/archive"
	"github.com/wolfman30/messenger-concierge/internal/assistant"
	"github.com/wolfman30/messenger-concierge/internal/booking"
	"github.com/wolfman30/messenger-concierge/internal/channels/messenger"
	"github.com/wolfman30/messenger-concierge/internal/chatstore"
	appconfig "github.com/wolfman30/messenger-concierge/internal/config"
	"github.com/wolfman30/messenger-concierge/internal/console"
	"github.com/wolfman30/messenger-concierge/internal/conversation"
	"github.com/wolfman30/messenger-concierge/internal/customers"
	"github.com/wolfman30/messenger-concierge/internal/followup"
	"github.com/wolfman30/messenger-concierge/internal/http/handlers"
	"github.com/wolfman30/messenger-concierge/internal/inbound"
	"github.com/wolfman30/messenger-concierge/internal/knowledge"
	"github.com/wolfman30/messenger-concierge/internal/llm"
	"github.com/wolfman30/messenger-concierge/internal/notify"
	"github.com/wolfman30/messenger-concierge/internal/observability/metrics"
	"github.com/wolfman30/messenger-concierge/internal/permission"
	"github.com/wolfman30/messenger-concierge/internal/reply"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// App is the assembled server.
type App struct {
	Handler      http.Handler
	Orchestrator *conversation.Orchestrator
	Coalescer    *inbound.Coalescer
	FollowUps    *followup.Runner
	// Scheduler is nil when scheduled follow-ups are disabled.
	Scheduler *followup.Scheduler
}

// Close cancels pending flushes. Connections in Resources belong to the caller.
func (a *App) Close() {
	if a.Coalescer != nil {
		a.Coalescer.Close()
	}
}

// Resources are the externally owned clients Build wires into the app.
// Zero values select in-process fallbacks where one exists.
type Resources struct {
	AWS      aws.Config
	Redis    *redis.Client
	Postgres *pgxpool.Pool
	SQL      *sql.DB
	// LLM overrides the provider built from config.
	LLM llm.Client
	// Knowledge overrides the loader selected by KNOWLEDGE_SOURCE.
	Knowledge knowledge.Loader
	// Registry receives the concierge metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
}

// Build wires the full request path: webhook, receiver, coalescer,
// orchestrator and the admin surface.
func Build(ctx context.Context, cfg *appconfig.Config, res Resources, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	reg := res.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.NewConciergeMetrics(reg)

	history, err := BuildChatStore(cfg, res, logger)
	if err != nil {
		return nil, err
	}
	directory := BuildDirectory(res, logger)

	source, err := BuildKnowledgeSource(cfg, res, logger)
	if err != nil {
		return nil, err
	}

	client := res.LLM
	if client == nil {
		client, err = BuildLLMClient(ctx, cfg, res.AWS, logger)
		if err != nil {
			return nil, err
		}
	}
	temperature := cfg.Temperature
	assist := assistant.NewService(client, source, history, assistant.Options{
		Model:           cfg.OpenAIModel,
		ClassifierModel: cfg.ClassifierModel,
		Temperature:     &temperature,
		Metrics:         m,
		Logger:          logger,
	})

	gateway := messenger.NewClient(cfg.PageAccessToken, logger,
		messenger.WithGraphAPIBase(cfg.GraphAPIBase),
		messenger.WithRateLimit(cfg.SendRatePerSec, cfg.SendBurst),
		messenger.WithMetrics(m),
	)

	recorders, lister := BuildBookingRecorders(cfg, res, logger)
	handoffOpts := []booking.Option{}
	if notifier := BuildBookingNotifier(cfg, res, logger); notifier != nil {
		handoffOpts = append(handoffOpts, booking.WithNotifier(notifier))
	}
	if cfg.ArchiveBucket != "" {
		archiver := archive.NewStore(s3.NewFromConfig(res.AWS), cfg.ArchiveBucket, history, logger)
		if archiver.Enabled() {
			handoffOpts = append(handoffOpts, booking.WithArchiver(archiver))
			logger.Info("booking archive enabled", "bucket", cfg.ArchiveBucket)
		}
	}
	handoff := booking.NewHandoff(gateway, gateway, recorders, booking.Config{
		Acknowledgement: cfg.BookingAckMessage,
		FallbackName:    cfg.BookingFallbackName,
	}, logger, handoffOpts...)

	bands, err := reply.ParseBands(cfg.PriceBands)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse price bands: %w", err)
	}
	decomposer := reply.NewDecomposer(cfg.FollowUpKeywords, reply.NewPriceCorrector(cfg.PriceCanonical, bands))

	permissions := permission.NewCache(directory, cfg.PermissionCacheTTL, logger, permission.WithMetrics(m))

	orch := conversation.NewOrchestrator(conversation.Deps{
		Permissions: permissions,
		Directory:   directory,
		Profiles:    gateway,
		Assistant:   assist,
		Decomposer:  decomposer,
		Gateway:     gateway,
		History:     history,
		Messages:    source,
		Booking:     handoff,
		Metrics:     m,
		Logger:      logger,
	}, conversation.Config{
		PageID:            cfg.PageID,
		OptimisticNewUser: cfg.OptimisticNewUser,
		IntroImageURL:     cfg.IntroImageURL,
		IntroDelay:        cfg.IntroDelay,
		FollowUpDelay:     cfg.FollowUpDelay,
		FallbackName:      cfg.BookingFallbackName,
		MessageTag:        messenger.TagConfirmedEventUpdate,
	})
	hub := console.NewHub(orch, logger)
	orch.SetObserver(hub)

	coalescer := inbound.NewCoalescer(cfg.DebounceWindow, orch.HandleTurn, logger)
	receiver := inbound.NewReceiver(BuildLedger(cfg, res, logger), coalescer, m, logger,
		inbound.WithDeferredHook(orch.MarkDebouncing),
	)
	webhook := messenger.NewWebhookHandler(cfg.VerifyToken, cfg.AppSecret, receiver, logger)

	runner := followup.NewRunner(history, directory, assist, gateway, logger,
		followup.WithInactivity(cfg.FollowUpInactivity),
		followup.WithMetrics(m),
	)

	app := &App{
		Orchestrator: orch,
		Coalescer:    coalescer,
		FollowUps:    runner,
	}
	if cfg.FollowUpEnabled {
		app.Scheduler, err = followup.NewScheduler(cfg.FollowUpSchedule, runner, logger)
		if err != nil {
			return nil, err
		}
	}

	var bookingsHandler *handlers.BookingHandler
	if lister != nil {
		bookingsHandler = handlers.NewBookingHandler(lister, logger)
	}
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; admin routes disabled")
	}

	app.Handler = router.New(&router.Config{
		Logger:             logger,
		Webhook:            webhook,
		Permissions:        handlers.NewPermissionHandler(permissions, directory, logger),
		FollowUps:          handlers.NewFollowUpHandler(runner, logger),
		Conversations:      handlers.NewConversationHandler(history, directory, logger),
		ReplyPreview:       handlers.NewReplyPreviewHandler(decomposer, logger),
		Bookings:           bookingsHandler,
		Console:            hub,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		AdminRatePerSec:    cfg.AdminRatePerSec,
		AdminRateBurst:     cfg.AdminRateBurst,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	return app, nil
}

// BuildChatStore selects the history backend from CHAT_STORE_BACKEND.
func BuildChatStore(cfg *appconfig.Config, res Resources, logger *logging.Logger) (chatstore.Store, error) {
	tracer := otel.Tracer("concierge.internal.chatstore")
	switch cfg.ChatStoreBackend {
	case "redis":
		if res.Redis == nil {
			logger.Warn("redis unavailable; chat history kept in memory")
			return chatstore.NewMemoryStore(cfg.ChatHistoryLimit), nil
		}
		return chatstore.NewRedisStore(res.Redis, cfg.ChatHistoryLimit, tracer), nil
	case "postgres":
		if res.Postgres == nil {
			return nil, errors.New("bootstrap: CHAT_STORE_BACKEND=postgres requires DATABASE_URL")
		}
		return chatstore.NewPostgresStore(res.Postgres, cfg.ChatHistoryLimit, tracer), nil
	case "memory", "":
		return chatstore.NewMemoryStore(cfg.ChatHistoryLimit), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown chat store backend %q", cfg.ChatStoreBackend)
	}
}

// BuildDirectory returns the Postgres customer directory, or an in-memory
// one when no database is configured.
func BuildDirectory(res Resources, logger *logging.Logger) customers.Directory {
	if res.Postgres == nil {
		logger.Warn("no database configured; customer directory kept in memory")
		return customers.NewInMemoryDirectory()
	}
	return customers.NewPostgresDirectory(res.Postgres)
}

// BuildKnowledgeSource selects the knowledge loader from KNOWLEDGE_SOURCE and
// caches it for KNOWLEDGE_CACHE_TTL.
func BuildKnowledgeSource(cfg *appconfig.Config, res Resources, logger *logging.Logger) (*knowledge.CachedSource, error) {
	var loader knowledge.Loader
	switch {
	case res.Knowledge != nil:
		return knowledge.NewCachedSource(res.Knowledge, cfg.KnowledgeCacheTTL, logger), nil
	case cfg.KnowledgeSource == "postgres", cfg.KnowledgeSource == "":
		if res.Postgres == nil {
			return nil, errors.New("bootstrap: KNOWLEDGE_SOURCE=postgres requires DATABASE_URL")
		}
		loader = knowledge.NewPostgresStore(res.Postgres)
	case cfg.KnowledgeSource == "s3":
		if cfg.KnowledgeBucket == "" {
			return nil, errors.New("bootstrap: KNOWLEDGE_SOURCE=s3 requires KNOWLEDGE_BUCKET")
		}
		loader = knowledge.NewS3Loader(s3.NewFromConfig(res.AWS), cfg.KnowledgeBucket, cfg.KnowledgeKey)
	default:
		return nil, fmt.Errorf("bootstrap: unknown knowledge source %q", cfg.KnowledgeSource)
	}
	logger.Info("knowledge source configured", "source", cfg.KnowledgeSource)
	return knowledge.NewCachedSource(loader, cfg.KnowledgeCacheTTL, logger), nil
}

// BuildLedger selects the dedup ledger from LEDGER_BACKEND, falling back to
// memory when the chosen backend is not connected.
func BuildLedger(cfg *appconfig.Config, res Resources, logger *logging.Logger) inbound.Ledger {
	switch cfg.LedgerBackend {
	case "redis":
		if res.Redis != nil {
			return inbound.NewRedisLedger(res.Redis, cfg.DedupTTL, logger)
		}
	case "postgres":
		if res.Postgres != nil {
			return inbound.NewPostgresLedger(res.Postgres, cfg.DedupTTL, logger)
		}
	case "memory", "":
		return inbound.NewMemoryLedger(cfg.DedupTTL, logger)
	}
	logger.Warn("ledger backend unavailable; using memory", "backend", cfg.LedgerBackend)
	return inbound.NewMemoryLedger(cfg.DedupTTL, logger)
}

// BuildBookingRecorders fans bookings out to every configured sink. The
// returned lister is nil unless bookings land in Postgres.
func BuildBookingRecorders(cfg *appconfig.Config, res Resources, logger *logging.Logger) (booking.MultiRecorder, handlers.BookingLister) {
	var recorders booking.MultiRecorder
	var lister handlers.BookingLister
	if res.SQL != nil {
		pg := booking.NewPostgresRecorder(res.SQL)
		recorders = append(recorders, pg)
		lister = pg
	}
	if cfg.BookingTable != "" {
		recorders = append(recorders, booking.NewDynamoRecorder(dynamodb.NewFromConfig(res.AWS), cfg.BookingTable))
		logger.Info("booking table enabled", "table", cfg.BookingTable)
	}
	if cfg.BookingQueueURL != "" {
		recorders = append(recorders, booking.NewQueueRecorder(sqs.NewFromConfig(res.AWS), cfg.BookingQueueURL))
		logger.Info("booking queue enabled", "queue_url", cfg.BookingQueueURL)
	}
	if len(recorders) == 0 {
		logger.Warn("no booking recorder configured; bookings are only acknowledged")
	}
	return recorders, lister
}

// BuildBookingNotifier returns the staff email notifier, or nil when no
// recipient or provider is configured.
func BuildBookingNotifier(cfg *appconfig.Config, res Resources, logger *logging.Logger) booking.Notifier {
	if cfg.HandoffNotificationEmail == "" {
		return nil
	}
	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger); sg != nil {
			sender = sg
		}
	case "ses":
		sender = notify.NewSESSender(sesv2.NewFromConfig(res.AWS), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
	case "log", "":
		sender = notify.NewLogSender(logger)
	}
	if sender == nil {
		logger.Warn("email provider not usable; booking notifications disabled", "provider", cfg.EmailProvider)
		return nil
	}
	notifier := notify.NewBookingNotifier(sender, cfg.HandoffNotificationEmail, logger)
	if notifier == nil {
		return nil
	}
	logger.Info("booking notifications enabled", "provider", cfg.EmailProvider)
	return notifier
}
