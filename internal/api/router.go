package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service      BookingService
	Logger       *zap.Logger
	Dependencies []Dependency
	Env          string
	Version      string
	RateLimitRPS int
	CORSOrigins  []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := NewHandlers(cfg.Service, logger)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitRPS, time.Second))
		}

		r.Post("/reserve", h.Reserve)
		r.Post("/confirm", h.Confirm)
		r.Post("/release", h.Release)
		r.Post("/cancelBooking", h.CancelBooking)
		r.Get("/availability", h.Availability)

		r.Route("/slots", func(r chi.Router) {
			r.Post("/", h.CreateSlot)
			r.Get("/{id}", h.GetSlot)
			r.Delete("/{id}", h.DeleteSlot)
			r.Post("/{id}/complete", h.Complete)
			r.Post("/{id}/withdraw", h.Withdraw)
		})
	})

	return r
}
