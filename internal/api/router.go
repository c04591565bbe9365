// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roomledger/roomledger/internal/config"
	"github.com/roomledger/roomledger/internal/metrics"
)

// NewRouter builds the chi router with the full middleware stack.
func NewRouter(h *Handler, cfg *config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(requestMetrics)

	// Health endpoints get permissive rate limiting so monitoring can poll
	// frequently without tripping the general limit.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

		r.Post("/sync", h.TriggerSync)
		r.Get("/sync/status", h.SyncStatus)
		r.Get("/users", h.Users)
		r.Get("/rooms", h.Rooms)
		r.Get("/rooms/priority/users", h.PriorityRoomUsers)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestMetrics records Prometheus metrics for every request.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, routePattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
