package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/wolfman30/messenger-concierge/internal/channels/messenger"
	"github.com/wolfman30/messenger-concierge/internal/console"
	"github.com/wolfman30/messenger-concierge/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/messenger-concierge/internal/http/middleware"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Webhook            *messenger.WebhookHandler
	Permissions        *handlers.PermissionHandler
	FollowUps          *handlers.FollowUpHandler
	Conversations      *handlers.ConversationHandler
	ReplyPreview       *handlers.ReplyPreviewHandler
	Bookings           *handlers.BookingHandler
	Console            *console.Hub
	AdminAuthSecret    string
	AdminRatePerSec    float64
	AdminRateBurst     int
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpmiddleware.RequestIDHeader},
			ExposedHeaders: []string{httpmiddleware.RequestIDHeader},
			MaxAge:         600,
		}))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.Webhook != nil {
		r.Get("/webhook", cfg.Webhook.HandleVerification)
		r.Post("/webhook", cfg.Webhook.HandleInbound)
	}
	if cfg.Permissions != nil {
		// path kept for operator scripts that predate /admin
		r.Delete("/api/delete_cache_permission/{userID}", cfg.Permissions.Invalidate)
	}

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			if cfg.AdminRatePerSec > 0 {
				admin.Use(httpmiddleware.RateLimit(cfg.AdminRatePerSec, cfg.AdminRateBurst))
			}
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			if cfg.Permissions != nil {
				admin.Route("/permissions/{userID}", func(p chi.Router) {
					p.Get("/", cfg.Permissions.Get)
					p.Put("/", cfg.Permissions.Set)
					p.Delete("/", cfg.Permissions.Invalidate)
				})
			}
			if cfg.FollowUps != nil {
				admin.Post("/followups/run", cfg.FollowUps.Run)
			}
			if cfg.Conversations != nil {
				admin.Get("/conversations/{userID}", cfg.Conversations.Get)
			}
			if cfg.ReplyPreview != nil {
				admin.Post("/replies/preview", cfg.ReplyPreview.Preview)
			}
			if cfg.Bookings != nil {
				admin.Get("/bookings", cfg.Bookings.List)
			}
			if cfg.Console != nil {
				admin.Get("/console", cfg.Console.HandleWebSocket)
			}
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
