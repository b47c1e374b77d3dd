package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "recon3d"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		},
		[]string{"path", "method", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route, method and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "HTTP requests being served.",
		},
	)

	// Reconstruct runs take seconds to minutes, so they get their own
	// buckets and an outcome label instead of a bare status code.
	reconstructTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "reconstruct_total",
			Help:      "POST /reconstruct calls by outcome.",
		},
		[]string{"outcome"},
	)
	reconstructDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "reconstruct_duration_seconds",
			Help:      "POST /reconstruct latency by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		},
		[]string{"outcome"},
	)
	reconstructPoints = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "reconstruct_points",
			Help:      "Points written per successful reconstruction.",
			Buckets:   prometheus.ExponentialBuckets(1e4, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight,
		reconstructTotal, reconstructDuration, reconstructPoints)
}

// Reconstruct outcomes.
const (
	outcomeOK          = "ok"
	outcomeBusy        = "busy"
	outcomeBadRequest  = "bad_request"
	outcomeUnavailable = "unavailable"
	outcomeTimeout     = "timeout"
	outcomeAbandoned   = "abandoned"
	outcomeError       = "error"
)

// outcomeFor names the result of a reconstruct call from its status code.
func outcomeFor(status int) string {
	switch status {
	case http.StatusOK:
		return outcomeOK
	case http.StatusTooManyRequests:
		return outcomeBusy
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return outcomeBadRequest
	case http.StatusServiceUnavailable:
		return outcomeUnavailable
	case http.StatusGatewayTimeout:
		return outcomeTimeout
	}
	return outcomeError
}

// observeReconstruct records one finished reconstruct call. points is only
// recorded for successful runs.
func observeReconstruct(outcome string, took time.Duration, points int) {
	reconstructTotal.WithLabelValues(outcome).Inc()
	reconstructDuration.WithLabelValues(outcome).Observe(took.Seconds())
	if outcome == outcomeOK {
		reconstructPoints.Observe(float64(points))
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments every request. Labels use the chi route
// pattern, which is only known once routing has run.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInflight.Inc()
		defer httpInflight.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		labels := []string{routeLabel(r), r.Method, strconv.Itoa(sr.status)}
		httpRequestsTotal.WithLabelValues(labels...).Inc()
		httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// routeLabel is the matched chi pattern, or "unmatched" so arbitrary URLs
// cannot grow label cardinality.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
