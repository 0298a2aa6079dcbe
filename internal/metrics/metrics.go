// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txshield",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "txshield",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ExecutionsTotal counts protected executions by strategy and outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txshield",
			Name:      "executions_total",
			Help:      "Total protected executions by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	// ExecutionDuration observes end-to-end execution time by strategy.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "txshield",
			Name:      "execution_duration_seconds",
			Help:      "End-to-end protected execution duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"strategy"},
	)

	// FragmentsTotal counts fragment submissions by result.
	FragmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txshield",
			Name:      "fragments_total",
			Help:      "Total fragment submissions by result.",
		},
		[]string{"result"},
	)

	// DecoysTotal counts decoy submissions by result.
	DecoysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txshield",
			Name:      "decoys_total",
			Help:      "Total decoy submissions by result.",
		},
		[]string{"result"},
	)

	// RouterSubmissionsTotal counts router submissions by channel and result.
	RouterSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txshield",
			Name:      "router_submissions_total",
			Help:      "Total router submissions by channel (relay/direct) and result.",
		},
		[]string{"channel", "result"},
	)

	// RelayFallbacksTotal counts relay failures that fell back to direct.
	RelayFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txshield",
			Name:      "relay_fallbacks_total",
			Help:      "Total submissions that fell back from relay to direct.",
		},
	)

	// CommitRevealPhasesTotal counts commit-reveal phases by phase and result.
	CommitRevealPhasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txshield",
			Name:      "commit_reveal_phases_total",
			Help:      "Total commit-reveal phases by phase and result.",
		},
		[]string{"phase", "result"},
	)

	// MonitorSamplesTotal counts network samples by freshness.
	MonitorSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txshield",
			Name:      "monitor_samples_total",
			Help:      "Total network condition samples by freshness (fresh/stale).",
		},
		[]string{"freshness"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ExecutionsTotal,
		ExecutionDuration,
		FragmentsTotal,
		DecoysTotal,
		RouterSubmissionsTotal,
		RelayFallbacksTotal,
		CommitRevealPhasesTotal,
		MonitorSamplesTotal,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
