package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// NewLoggingMiddleware logs one access line per request. Headers other than
// Content-Type and Origin are never logged, and neither are bodies.
func NewLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		LogRequestHeaders:  []string{"Content-Type", "Origin"},
		LogResponseHeaders: []string{},

		// Recovery handles panics.
		RecoverPanics: false,
	})
}

// SetLogAttrs adds attributes to the access log line of the current request.
// It is a no-op outside the logging middleware.
func SetLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	httplog.SetAttrs(ctx, attrs...)
}
