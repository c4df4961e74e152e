// Package server implements the HTTP transport layer for the Radagast gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/authz"
	"github.com/eugener/radagast/internal/provider"
	"github.com/eugener/radagast/internal/quota"
	"github.com/eugener/radagast/internal/telemetry"
	"github.com/eugener/radagast/internal/token"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// CompletionRecorder finalizes a completion's accounting.
type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, claims *gateway.Claims, provider gateway.Provider, model string, inputTokens, outputTokens int64) error
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Tokens         *token.Codec
	Adapters       *provider.Registry
	Authz          *authz.Authorizer
	Quota          *quota.Engine
	Recorder       CompletionRecorder // nil = no accounting (for tests)
	Metrics        *telemetry.Metrics // nil = no metrics
	MetricsHandler http.Handler       // nil = /metrics not mounted
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Client-facing API (auth required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/completion", s.handleCompletion)
	})

	return r
}

type server struct {
	deps Deps
}
