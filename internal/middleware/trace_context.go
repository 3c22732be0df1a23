package middleware

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// NewTraceContextMiddleware joins an incoming W3C trace (traceparent/tracestate) without
// creating spans. The span context lands in the request context, where the slog handler
// picks it up, and in the access log.
func NewTraceContextMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
				SetLogAttrs(ctx,
					slog.String("trace_id", spanCtx.TraceID().String()),
					slog.String("span_id", spanCtx.SpanID().String()),
				)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
