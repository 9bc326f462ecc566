package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vitalsync"

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served",
		},
	)

	// Sync run metrics
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by outcome",
		},
		[]string{"vendor", "status"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"vendor"},
	)

	observationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "observations_total",
			Help:      "Observations handled by sync runs",
		},
		[]string{"vendor", "outcome"},
	)

	vendorFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "fetch_errors_total",
			Help:      "Vendor fetch failures by metric kind and error code",
		},
		[]string{"vendor", "kind", "code"},
	)

	tokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "token_refresh_total",
			Help:      "Token refresh grants by outcome",
		},
		[]string{"vendor", "outcome"},
	)

	connectedIntegrations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "integration",
			Name:      "connected_count",
			Help:      "Number of connected integrations",
		},
		[]string{"vendor"},
	)

	// Queue metrics
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Sync jobs by trigger and final status",
		},
		[]string{"trigger", "status"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns a middleware that records Prometheus metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()

		// Route pattern keeps label cardinality bounded
		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}

		status := strconv.Itoa(wrapped.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, routePattern, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, routePattern, status).Observe(duration)
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSync records a finished sync run
func RecordSync(vendor, status string, duration time.Duration) {
	syncRunsTotal.WithLabelValues(vendor, status).Inc()
	syncDuration.WithLabelValues(vendor).Observe(duration.Seconds())
}

// RecordObservations counts observations by outcome (created, skipped, failed)
func RecordObservations(vendor, outcome string, n int) {
	if n <= 0 {
		return
	}
	observationsTotal.WithLabelValues(vendor, outcome).Add(float64(n))
}

// RecordFetchError counts a failed metric fetch
func RecordFetchError(vendor, kind, code string) {
	vendorFetchErrors.WithLabelValues(vendor, kind, code).Inc()
}

// RecordTokenRefresh counts a refresh grant
func RecordTokenRefresh(vendor, outcome string) {
	tokenRefreshTotal.WithLabelValues(vendor, outcome).Inc()
}

// SetConnectedIntegrations sets the gauge for connected integrations
func SetConnectedIntegrations(vendor string, count float64) {
	connectedIntegrations.WithLabelValues(vendor).Set(count)
}

// RecordJob counts a sync job reaching a terminal status
func RecordJob(trigger, status string) {
	jobsTotal.WithLabelValues(trigger, status).Inc()
}
