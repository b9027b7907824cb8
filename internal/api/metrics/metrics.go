// Package metrics exposes Prometheus instrumentation for the stamping
// API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	stampsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stamps_total",
			Help: "Total number of stamping operations",
		},
		[]string{"status"},
	)

	stampDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stamp_duration_seconds",
			Help:    "End-to-end stamping duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	tokenBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stamp_token_bytes",
			Help:    "Size of embedded timestamp tokens in bytes",
			Buckets: prometheus.ExponentialBuckets(512, 2, 8),
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordStamp records the outcome of one stamping operation.
func RecordStamp(success bool, duration time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	stampsTotal.WithLabelValues(status).Inc()
	stampDuration.Observe(duration.Seconds())
}

// RecordTokenSize records the size of an embedded token.
func RecordTokenSize(n int) {
	tokenBytes.Observe(float64(n))
}
