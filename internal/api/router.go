// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftline/driftline/internal/middleware"
)

// RouterConfig carries the route-level knobs.
type RouterConfig struct {
	CORSOrigins     []string
	RateLimit       int
	RateLimitWindow time.Duration
}

// NewRouter assembles the chi router. Auth and health endpoints sit outside
// the JWT gate; everything else requires a verified token.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	// Login gets a tight limit of its own against brute forcing.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/login", h.Login)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimit, cfg.RateLimitWindow))
		r.Use(middleware.Prometheus)
		r.Use(h.auth.Middleware)

		r.Get("/ws", h.WebSocket)
		r.Get("/events", h.Events)

		r.Post("/messages", h.PostMessage)
		r.Post("/messages/{messageID}/reactions", h.ToggleReaction)
		r.Post("/typing", h.Typing)
		r.Put("/presence/status", h.PresenceStatus)
	})

	return r
}
