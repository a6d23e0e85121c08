// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

// Package api exposes the debug/ops HTTP surface: health, metrics, debug
// state, the emergency brake, and on-demand self-tests.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config tunes the router's middleware stack.
type Config struct {
	RequestTimeout  time.Duration
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RateLimitReqs <= 0 {
		c.RateLimitReqs = 100
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
}

// Router owns the HTTP handler tree.
type Router struct {
	cfg      Config
	handler  *Handler
	registry *prometheus.Registry
	log      zerolog.Logger
}

// NewRouter builds the ops router around the given handler and metrics
// registry.
func NewRouter(cfg Config, handler *Handler, registry *prometheus.Registry, log zerolog.Logger) *Router {
	cfg.applyDefaults()
	return &Router{cfg: cfg, handler: handler, registry: registry, log: log}
}

// Setup assembles the full route tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(rt.cfg.RequestTimeout))

	// Health and metrics get a permissive limit so scrapers and probes
	// never trip it.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/healthz", rt.handler.Health)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	})

	r.Route("/api/v1/debug", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow))
		r.Get("/", rt.handler.Debug)
		r.Post("/reset-metrics", rt.handler.ResetMetrics)
		r.Post("/emergency-brake/{userID}", rt.handler.EmergencyBrake)
		r.Post("/selftest/{name}", rt.handler.SelfTest)
	})

	return r
}
