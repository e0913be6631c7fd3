package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking/internal/booking"
)

type RouterConfig struct {
	Service   *booking.Service
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Log       *zap.Logger
	Env       string
	Version   string
	RateLimit int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Second))
	}
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/slots", func(r chi.Router) {
		r.Post("/", createSlotHandler(cfg.Service))
		r.Post("/bulk", bulkSlotsHandler(cfg.Service))
		r.Get("/", listSlotsHandler(cfg.Service))
		r.Post("/{id}/block", blockSlotHandler(cfg.Service))
		r.Post("/{id}/unblock", unblockSlotHandler(cfg.Service))
		r.Delete("/{id}", deleteSlotHandler(cfg.Service))
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/{id}/reschedule", rescheduleHandler(cfg.Service))
		r.Post("/{id}/status", updateStatusHandler(cfg.Service))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	})

	r.Post("/payments/confirm", confirmPaymentHandler(cfg.Service))
	r.Post("/cancellation-requests/{id}/resolve", resolveCancellationHandler(cfg.Service))

	return r
}
