package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "copilot_gateway"

var (
	// UpstreamRequests counts chat completion calls by public operation and upstream status.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Chat completion requests sent upstream",
		},
		[]string{"operation", "status"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Time until upstream response headers arrive",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	SessionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "session_refreshes_total",
			Help:      "Copilot session token refreshes",
		},
		[]string{"result"},
	)

	CatalogFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "fetches_total",
			Help:      "Model catalog fetches from upstream",
		},
		[]string{"result"},
	)

	// StreamEvents counts Claude stream events written to callers.
	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Transcoded stream events by type",
		},
		[]string{"type"},
	)

	StreamLinesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "skipped_lines_total",
			Help:      "Upstream stream lines skipped as malformed",
		},
	)
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)
