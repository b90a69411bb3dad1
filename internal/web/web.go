// Package web exposes the experiment API over HTTP.
//
// All experiment routes live under /api/ab-tests. Authentication runs
// first (JWT or API key), then handlers derive the caller's scope from
// the authenticated user plus the optional X-Team-ID header.
package web

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prompt-minder/promptminder/internal/auth"
	"github.com/prompt-minder/promptminder/internal/experiments"
	"github.com/prompt-minder/promptminder/internal/observability"
)

// basePath is the URL prefix for experiment routes.
const basePath = "/api/ab-tests"

// Config holds the handler's dependencies.
type Config struct {
	// Experiments runs lifecycle operations and builds reports.
	Experiments *experiments.Service
	// AuthService validates request credentials (optional; when
	// disabled, requests fall back to the X-User-ID header).
	AuthService *auth.Service
	// Logger for request logging.
	Logger *observability.Logger
	// Metrics records HTTP metrics (optional).
	Metrics *observability.Metrics
	// ServerStartTime for uptime reporting on /healthz.
	ServerStartTime time.Time
}

// Handler is the main HTTP handler.
type Handler struct {
	config *Config
	mux    *http.ServeMux
	chain  http.Handler
}

// NewHandler creates the API handler and registers its routes.
func NewHandler(cfg *Config) *Handler {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{})
	}
	if cfg.ServerStartTime.IsZero() {
		cfg.ServerStartTime = time.Now()
	}

	h := &Handler{config: cfg, mux: http.NewServeMux()}

	h.mux.HandleFunc(basePath, h.apiExperiments)
	h.mux.HandleFunc(basePath+"/", h.apiExperiment)
	h.mux.HandleFunc("/healthz", h.handleHealth)
	h.mux.Handle("/metrics", promhttp.Handler())

	// Outermost first: request id, logging, metrics, then auth.
	// /healthz and /metrics stay reachable without credentials.
	chain := h.authenticated(h.mux)
	chain = MetricsMiddleware(cfg.Metrics)(chain)
	chain = LoggingMiddleware(cfg.Logger)(chain)
	chain = RequestIDMiddleware()(chain)
	h.chain = chain
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.chain.ServeHTTP(w, r)
}

// authenticated applies auth to everything except the health and
// metrics endpoints.
func (h *Handler) authenticated(next http.Handler) http.Handler {
	authed := auth.Middleware(h.config.AuthService, h.config.Logger)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/metrics":
			next.ServeHTTP(w, r)
		default:
			authed.ServeHTTP(w, r)
		}
	})
}

// handleHealth reports liveness.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.config.ServerStartTime).Seconds()),
	})
}
