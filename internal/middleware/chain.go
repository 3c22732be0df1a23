package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/copilot-gateway/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	combined := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	combined = append(combined, c.middlewares...)

	return Chain{middlewares: append(combined, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler.
// The first middleware is the outermost.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	TelemetryBlocker     Middleware
	RequestID            Middleware
	Logging              Middleware
	RequestIDPropagation Middleware
	TraceContext         Middleware
	Recovery             Middleware
	SizeLimit            Middleware
	Auth                 Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(config *config.Manager, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		TelemetryBlocker:     NewTelemetryBlockerMiddleware(logger),
		RequestID:            NewRequestIDMiddleware(),
		Logging:              NewLoggingMiddleware(logger),
		RequestIDPropagation: NewRequestIDPropagationMiddleware(),
		TraceContext:         NewTraceContextMiddleware(),
		Recovery:             NewRecoveryMiddleware(logger),
		SizeLimit:            NewSizeLimitMiddleware(config.Get().MaxRequestBytes),
		Auth:                 NewAuthMiddleware(config, logger),
	}
}

// DefaultChain wraps every route.
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(
		ms.TelemetryBlocker,     // Answer telemetry before anything is logged
		ms.RequestID,            // Assign ids before the access log starts
		ms.Logging,              // Log requests
		ms.RequestIDPropagation, // Needs both the id and the logger
		ms.TraceContext,         // Join incoming traces
		ms.Recovery,             // Innermost so panics are still logged
	)
}

// ProtectedChain adds the access gate and the body limit for API routes.
func (ms MiddlewareSet) ProtectedChain() Chain {
	return New(
		ms.Auth,
		ms.SizeLimit,
	)
}
