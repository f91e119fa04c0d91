package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/agent-platform/internal/middleware"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// RouterConfig holds everything the HTTP router serves.
type RouterConfig struct {
	Health    *HealthHandler
	Chat      *ChatHandler
	Agents    *AgentHandler
	Analytics *AnalyticsHandler
	Knowledge *KnowledgeHandler
	Logger    *logger.Logger

	// JWTSecret enables bearer-token auth. When empty the tenant is taken from
	// the X-Tenant-ID header.
	JWTSecret         string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(middleware.Auth(cfg.JWTSecret))
		} else {
			r.Use(middleware.TenantFromHeader())
		}
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Post("/chat", cfg.Chat.Turn)
		r.Route("/chats", func(r chi.Router) {
			r.Get("/", cfg.Chat.List)
			r.Get("/{chatId}/messages", cfg.Chat.Messages)
			r.Post("/{chatId}/stop", cfg.Chat.Stop)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", cfg.Agents.List)
			r.Post("/", cfg.Agents.Create)
			r.Route("/{agentId}", func(r chi.Router) {
				r.Get("/", cfg.Agents.Get)
				r.Patch("/", cfg.Agents.Update)
				r.Delete("/", cfg.Agents.Delete)
			})
		})

		r.Get("/analytics", cfg.Analytics.Summary)
		r.Post("/knowledge/{sourceId}/documents", cfg.Knowledge.Ingest)
	})

	return r
}
