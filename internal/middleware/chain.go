// Package middleware provides the HTTP middleware the proxy server composes
// around its handlers.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/claudeswitch/claudeswitch/internal/config"
)

type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware list applied outermost-first.
type Chain struct {
	middlewares []Middleware
}

func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then extends the chain with more middleware.
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler wraps handler in the chain's middleware.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}
	return handler
}

// Set bundles the configured middleware for composition by the server.
type Set struct {
	Telemetry Middleware
	Logging   Middleware
	Auth      Middleware
}

func NewSet(cfg *config.Manager, logger *slog.Logger) Set {
	return Set{
		Telemetry: NewTelemetryBlocker(logger),
		Logging:   NewLogging(logger),
		Auth:      NewAuth(cfg, logger),
	}
}

// DefaultChain guards the proxy endpoints: telemetry shunt, request log,
// then auth.
func (s Set) DefaultChain() Chain {
	return New(s.Telemetry, s.Logging, s.Auth)
}

// HealthChain skips auth so probes work without credentials.
func (s Set) HealthChain() Chain {
	return New(s.Telemetry, s.Logging)
}
