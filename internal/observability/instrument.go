// Package observability configures process-wide logging and trace propagation.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Instrument installs the default slog logger and the W3C trace context propagator.
func Instrument(level, format string) (*slog.Logger, error) {
	logger, err := NewLogger(os.Stdout, level, format)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return logger, nil
}

// NewLogger builds a text or JSON logger whose records carry trace_id and span_id when the
// context holds a span.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", format)
	}

	return slog.New(newTraceContextHandler(handler)), nil
}
