package controller

import (
	"time"

	"github.com/cassiomorais/daraja/internal/callback"
	"github.com/cassiomorais/daraja/internal/infrastructure/config"
	"github.com/cassiomorais/daraja/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/daraja/internal/middleware"
	"github.com/cassiomorais/daraja/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Pool            *pgxpool.Pool
	RedisClient     *redis.Client
	GatewayService  *service.GatewayService
	CallbackHandler *callback.Handler
	Metrics         *observability.Metrics
	CORSConfig      config.CORSConfig
	JWTSecret       string
	RateLimitPerMin int
	Logger          zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	gatewayH := NewGatewayController(deps.GatewayService)
	webhookH := NewWebhookController(deps.CallbackHandler, deps.Logger)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// Callback endpoints stay unauthenticated; the handler enforces the
	// Safaricom source-IP allow list itself. The per-IP cap still applies.
	r.Route("/webhooks/mpesa", func(r chi.Router) {
		r.Use(customMW.RateLimit(deps.RateLimitPerMin))
		r.Post("/stk", webhookH.STK)
		r.Post("/c2b/validation", webhookH.C2BValidation)
		r.Post("/c2b/confirmation", webhookH.C2BConfirmation)
		r.Post("/b2c", webhookH.B2C)
		r.Post("/b2b", webhookH.B2B)
		r.Post("/balance", webhookH.Balance)
		r.Post("/status", webhookH.TransactionStatus)
		r.Post("/reversal", webhookH.Reversal)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RequireAuth(deps.JWTSecret))
		r.Use(customMW.RateLimit(deps.RateLimitPerMin))

		// Payment initiations
		r.Post("/stk/push", gatewayH.STKPush)
		r.Post("/stk/query", gatewayH.STKQuery)
		r.Post("/c2b/register", gatewayH.RegisterC2B)
		r.Post("/b2c", gatewayH.B2C)
		r.Post("/b2b", gatewayH.B2B)

		// Queries and utilities
		r.Post("/balance", gatewayH.Balance)
		r.Post("/transactions/status", gatewayH.TransactionStatus)
		r.Post("/reversal", gatewayH.Reversal)
		r.Post("/qr", gatewayH.DynamicQR)

		// Transaction log
		r.Get("/transactions", gatewayH.ListTransactions)
		r.Get("/transactions/{id}", gatewayH.GetTransaction)
	})

	return r
}
