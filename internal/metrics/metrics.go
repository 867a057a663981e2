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
			Name: "nudge_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudge_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	inboundAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_inbound_accepted_total",
			Help: "Inbound webhook messages accepted by channel",
		},
		[]string{"channel"},
	)

	inboundDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_inbound_duplicate_total",
			Help: "Inbound webhook messages rejected as duplicates by channel",
		},
		[]string{"channel"},
	)

	inboundRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_inbound_rejected_total",
			Help: "Inbound webhook messages rejected (unknown sender, rate limited) by channel and reason",
		},
		[]string{"channel", "reason"},
	)

	ingestJobLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nudge_ingest_job_duration_seconds",
			Help:    "Time to process one ingest job end to end",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30},
		},
	)

	tasksClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nudge_scheduler_tasks_claimed_total",
			Help: "Total tasks claimed by the scheduler across all ticks",
		},
	)

	tasksByStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_tasks_transitioned_total",
			Help: "Total task status transitions by resulting status",
		},
		[]string{"status"},
	)

	outboxAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudge_outbox_attempts",
			Help:    "Number of delivery attempts an outbox message took before its terminal state",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"channel", "outcome"},
	)

	outboxLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudge_outbox_delivery_latency_seconds",
			Help:    "Time from the start of a successful outbox send to the end of its bookkeeping",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"channel"},
	)

	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nudge_circuit_breaker_state",
			Help: "Circuit breaker state by name (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nudge_idempotency_hits_total",
			Help: "Inbound requests served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter, by user",
		},
		[]string{"user_id"},
	)

	queueMessagesInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nudge_queue_messages_in_flight",
			Help: "Current messages claimed but not yet acked, by stream",
		},
		[]string{"stream"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nudge_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nudge_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordInboundAccepted records a successfully accepted inbound webhook.
func RecordInboundAccepted(channel string) {
	inboundAccepted.WithLabelValues(channel).Inc()
}

// RecordInboundDuplicate records a webhook rejected as a duplicate.
func RecordInboundDuplicate(channel string) {
	inboundDuplicate.WithLabelValues(channel).Inc()
}

// RecordInboundRejected records a webhook rejected for a given reason
// (e.g. "unknown_sender", "rate_limited").
func RecordInboundRejected(channel, reason string) {
	inboundRejected.WithLabelValues(channel, reason).Inc()
}

// RecordIngestJobLatency records how long an ingest job took end to end.
func RecordIngestJobLatency(d time.Duration) {
	ingestJobLatency.Observe(d.Seconds())
}

// RecordTasksClaimed records how many tasks a single scheduler tick claimed.
func RecordTasksClaimed(n int) {
	tasksClaimed.Add(float64(n))
}

// RecordTaskTransition records a task moving into status.
func RecordTaskTransition(status string) {
	tasksByStatus.WithLabelValues(status).Inc()
}

// RecordOutboxOutcome records the attempt count an outbox message took
// to reach a terminal outcome ("sent" or "failed").
func RecordOutboxOutcome(channel, outcome string, attempts int) {
	outboxAttempts.WithLabelValues(channel, outcome).Observe(float64(attempts))
}

// RecordOutboxLatency records how long a successful outbox delivery
// took, measured by the caller from the start of the send.
func RecordOutboxLatency(channel string, latency time.Duration) {
	outboxLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// SetCircuitBreakerState reports a breaker's numeric state for dashboards.
func SetCircuitBreakerState(name string, state int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordIdempotencyHit records a cache hit for inbound idempotency.
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection for a user.
func RecordRateLimitRejection(userID string) {
	rateLimitRejections.WithLabelValues(userID).Inc()
}

// SetQueueMessagesInFlight sets the current in-flight message count for a stream.
func SetQueueMessagesInFlight(stream string, count int) {
	queueMessagesInFlight.WithLabelValues(stream).Set(float64(count))
}

// SetDBConnections sets active database connection count.
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count.
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
