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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_notifications_accepted_total",
			Help: "Total notifications accepted at intake by type",
		},
		[]string{"type"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_deliveries_total",
			Help: "Delivery attempt outcomes by status and type",
		},
		[]string{"status", "type"},
	)

	retriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_retries_scheduled_total",
			Help: "Transient failures rescheduled with backoff by type",
		},
		[]string{"type"},
	)

	deadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_dead_letters_total",
			Help: "Notifications routed to the dead-letter queue by type",
		},
		[]string{"type"},
	)

	malformedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_malformed_messages_total",
			Help: "Queue payloads that could not be deserialized",
		},
	)

	schedulerClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_scheduler_claims_total",
			Help: "Scheduler claim attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	queuePublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_queue_publish_failures_total",
			Help: "Failed publishes to the work queue",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAccepted records a notification accepted at intake
func RecordAccepted(notifType string) {
	notificationsAccepted.WithLabelValues(notifType).Inc()
}

// RecordDelivery records a delivery attempt outcome
func RecordDelivery(status, notifType string) {
	deliveriesTotal.WithLabelValues(status, notifType).Inc()
}

// RecordRetryScheduled records a transient failure scheduled for retry
func RecordRetryScheduled(notifType string) {
	retriesScheduled.WithLabelValues(notifType).Inc()
}

// RecordDeadLetter records a notification routed to the dead-letter queue
func RecordDeadLetter(notifType string) {
	deadLettersTotal.WithLabelValues(notifType).Inc()
}

// RecordMalformedMessage records an undeserializable queue payload
func RecordMalformedMessage() {
	malformedMessages.Inc()
}

// RecordSchedulerClaim records a scheduler claim attempt.
// kind is "retry" or "pending"; outcome is "won", "lost" or "error".
func RecordSchedulerClaim(kind, outcome string) {
	schedulerClaims.WithLabelValues(kind, outcome).Inc()
}

// RecordQueuePublishFailure records a failed work-queue publish
func RecordQueuePublishFailure() {
	queuePublishFailures.Inc()
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
