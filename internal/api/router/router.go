package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dealership-ai-platform/internal/http/middleware"
	"github.com/wolfman30/dealership-ai-platform/internal/inventory"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/messaging"
	"github.com/wolfman30/dealership-ai-platform/internal/webchat"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// WhatsAppWebhookPath is where Twilio posts inbound WhatsApp messages. The
// signature check needs the public URL of this path.
const WhatsAppWebhookPath = "/webhooks/twilio/whatsapp"

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	LeadsHandler        *leads.Handler
	ScoreHandler        *handlers.ScoreHandler
	TransitionsHandler  *handlers.TransitionsHandler
	ConversationHandler *conversation.Handler
	WebChatHandler      *webchat.Handler
	MessagingHandler    *messaging.Handler
	InventoryHandler    *inventory.Handler
	ComplianceEvents    *handlers.ComplianceEventsHandler
	AdminAuthSecret     string
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// PublicLimiter throttles unauthenticated customer endpoints per client IP.
	PublicLimiter *httpmiddleware.RateLimiter

	// HealthCheck reports dependency health; nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	limited := func(next http.Handler) http.Handler { return next }
	if cfg.PublicLimiter != nil {
		limited = httpmiddleware.RateLimit(cfg.PublicLimiter, httpmiddleware.ClientIP)
	}

	// Public endpoints (webhooks, health checks, customer chat)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthCheck))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.MessagingHandler != nil {
			public.Post(WhatsAppWebhookPath, cfg.MessagingHandler.WhatsAppWebhook)
		}

		public.Group(func(customer chi.Router) {
			customer.Use(limited)
			if cfg.LeadsHandler != nil {
				customer.With(middleware.Compress(5)).Post("/leads/web", cfg.LeadsHandler.CreateWebLead)
			}
			if cfg.InventoryHandler != nil {
				customer.With(middleware.Compress(5)).Get("/inventory", cfg.InventoryHandler.List)
			}
			customer.Route("/conversations/{leadID}", func(conv chi.Router) {
				if cfg.ConversationHandler != nil {
					conv.Get("/", cfg.ConversationHandler.Get)
					conv.Post("/messages", cfg.ConversationHandler.Message)
					conv.Post("/images", cfg.ConversationHandler.Image)
					conv.Post("/tool-results", cfg.ConversationHandler.ToolResult)
				}
				if cfg.WebChatHandler != nil {
					conv.Get("/ws", cfg.WebChatHandler.HandleWebSocket)
				}
			})
		})
	})

	if cfg.AdminAuthSecret == "" {
		return r
	}

	// Staff routes: any authenticated dealership agent.
	r.Group(func(staff chi.Router) {
		staff.Use(httpmiddleware.StaffJWT(cfg.AdminAuthSecret, httpmiddleware.RoleSales, httpmiddleware.RoleAdmin))
		staff.Use(middleware.Compress(5))

		if cfg.LeadsHandler != nil {
			staff.Get("/leads", cfg.LeadsHandler.ListLeads)
			staff.Get("/leads/{leadID}", cfg.LeadsHandler.GetLead)
		}
		if cfg.ScoreHandler != nil {
			staff.Post("/leads/{leadID}/score", cfg.ScoreHandler.Rescore)
		}
		if cfg.TransitionsHandler != nil {
			staff.Post("/leads/{leadID}/transitions", cfg.TransitionsHandler.Create)
			staff.Get("/leads/{leadID}/transitions", cfg.TransitionsHandler.History)
		}
	})

	// Admin routes (HMAC JWT with the admin role)
	r.Group(func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		admin.Use(middleware.Compress(5))
		if cfg.ComplianceEvents != nil {
			admin.Get("/admin/compliance/events", cfg.ComplianceEvents.List)
		}
		if cfg.InventoryHandler != nil {
			admin.Post("/inventory/ingest", cfg.InventoryHandler.Ingest)
			admin.Post("/inventory/{carID}/sold", cfg.InventoryHandler.MarkSold)
		}
	})

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "degraded"}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
