package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// Claude Code reports usage to Anthropic endpoints. Once ANTHROPIC_BASE_URL points at the
// gateway those calls arrive here and are answered locally.
var (
	eventPaths = []string{
		"/api/event_logging/",
		"/v1/initialize",
		"/v1/log_event",
		"/v1/rgstr",
		"/statsig",
		"/telemetry",
		"/analytics",
	}
	metricsPaths = []string{
		"/api/claude_code/metrics",
		"/claude_code/metrics",
	}
)

type TelemetryBlockerMiddleware struct {
	logger *slog.Logger
}

func NewTelemetryBlockerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tbm := &TelemetryBlockerMiddleware{
		logger: logger,
	}

	return tbm.middleware
}

func (tbm *TelemetryBlockerMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			host = r.Header.Get("Host")
		}

		switch {
		case isMetricsRequest(r.URL.Path):
			tbm.logger.Debug("Answered telemetry locally", "path", r.URL.Path)
			sendTelemetryResponse(w, http.StatusOK, `{"accepted_count":0,"rejected_count":0}`)
		case isEventRequest(host, r.URL.Path):
			tbm.logger.Debug("Answered telemetry locally", "path", r.URL.Path)
			sendTelemetryResponse(w, http.StatusAccepted, `{"success":true}`)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func sendTelemetryResponse(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func isEventRequest(host, path string) bool {
	if strings.Contains(host, "statsig.anthropic.com") {
		return true
	}

	for _, prefix := range eventPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

func isMetricsRequest(path string) bool {
	for _, prefix := range metricsPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}
