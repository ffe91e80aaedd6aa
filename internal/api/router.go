package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type RouterConfig struct {
	Booking BookingService
	Queue   QueueService
	Live    http.Handler
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Booking endpoints
	r.Post("/bookings", bookSlotHandler(cfg.Booking))
	r.Get("/doctors/{doctorID}/chambers/{chamberID}/slots", availableSlotsHandler(cfg.Booking))

	// Queue endpoints
	r.Patch("/appointments/{id}/status", updateStatusHandler(cfg.Queue))
	r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Queue))
	r.Get("/chambers/{id}/queue", queueSnapshotHandler(cfg.Queue))

	// Real-time surface
	if cfg.Live != nil {
		r.Get("/live", cfg.Live.ServeHTTP)
	}

	return r
}
