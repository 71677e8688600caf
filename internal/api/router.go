package api

import (
	"net/http"

	"streamsworker/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// NewRouter wires the HTTP surface. redisClient may be nil, which disables Idempotency-Key handling.
func NewRouter(h *Handlers, redisClient redis.Cmdable) http.Handler {
	r := chi.NewRouter()

	r.Use(ChiMiddleware.RequestID)
	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)

	r.Get("/", h.Health)
	r.Get("/health", h.Health)

	if redisClient != nil {
		r.With(middleware.Idempotency(redisClient)).Post("/events", h.SubmitEvent)
	} else {
		r.Post("/events", h.SubmitEvent)
	}

	r.Handle("/metrics", promhttp.Handler())

	h.logger.Info("Registered routes: POST /events, GET /, GET /health, GET /metrics")

	return r
}
