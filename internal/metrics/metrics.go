// ABOUTME: Prometheus collectors for generation, quota and payment activity
// ABOUTME: Private registry exposed via promhttp handler

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "imageforge",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imageforge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imageforge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imageforge",
			Subsystem: "generation",
			Name:      "images_total",
			Help:      "Total number of image generation attempts.",
		},
		[]string{"style", "source", "status"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imageforge",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Duration of upstream image generation calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"status"},
	)

	quotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imageforge",
			Subsystem: "generation",
			Name:      "quota_rejections_total",
			Help:      "Requests rejected because the device had no generations left.",
		},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imageforge",
			Subsystem: "payment",
			Name:      "completed_total",
			Help:      "Completed payments by product.",
		},
		[]string{"product_sku"},
	)

	revenueCents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imageforge",
			Subsystem: "payment",
			Name:      "revenue_cents_total",
			Help:      "Gross revenue in cents by product.",
		},
		[]string{"product_sku"},
	)

	checkoutsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imageforge",
			Subsystem: "payment",
			Name:      "checkouts_created_total",
			Help:      "Checkout sessions created.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		generations,
		generationDuration,
		quotaRejections,
		payments,
		revenueCents,
		checkoutsCreated,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordGeneration records one generation attempt.
func RecordGeneration(style, source string, success bool, duration time.Duration) {
	if style == "" {
		style = "none"
	}
	status := "failed"
	if success {
		status = "completed"
	}
	generations.WithLabelValues(style, source, status).Inc()
	if duration > 0 {
		generationDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// RecordQuotaRejection records a generation refused for lack of quota.
func RecordQuotaRejection() {
	quotaRejections.Inc()
}

// RecordCheckoutCreated records a new checkout session.
func RecordCheckoutCreated() {
	checkoutsCreated.Inc()
}

// RecordPayment records a completed payment and its gross revenue.
func RecordPayment(productSKU string, priceCents int64) {
	payments.WithLabelValues(productSKU).Inc()
	revenueCents.WithLabelValues(productSKU).Add(float64(priceCents))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses device- and session-scoped paths so metric
// cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i := 1; i < len(parts); i++ {
		switch parts[i-1] {
		case "usage", "by-device":
			parts[i] = ":device"
		case "session":
			parts[i] = ":session"
		}
	}
	return "/" + strings.Join(parts, "/")
}
