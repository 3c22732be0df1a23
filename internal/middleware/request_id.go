package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the id assigned to the request, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewRequestIDMiddleware keeps a client supplied X-Request-ID or generates one.
func NewRequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}

			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequestIDPropagationMiddleware echoes the id to the client and the access log.
// It must run inside both the request id and the logging middleware.
func NewRequestIDPropagationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := RequestID(r.Context()); id != "" {
				// Set before the handler runs so recovered panics still carry it.
				w.Header().Set(RequestIDHeader, id)
				SetLogAttrs(r.Context(), slog.String("request_id", id))
			}

			next.ServeHTTP(w, r)
		})
	}
}
