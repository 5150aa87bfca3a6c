package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlastalk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlastalk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Store metrics
	storeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlastalk_store_operations_total",
			Help: "Total number of conversation store operations",
		},
		[]string{"operation", "status"},
	)

	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlastalk_store_operation_duration_seconds",
			Help:    "Conversation store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Upstream agent metrics
	agentCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlastalk_agent_calls_total",
			Help: "Total number of upstream agent calls",
		},
		[]string{"agent", "status"},
	)

	agentCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlastalk_agent_call_duration_seconds",
			Help:    "Upstream agent call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	// Goal tracking metrics
	goalChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlastalk_goal_checks_total",
			Help: "Total number of goal completion checks",
		},
		[]string{"status"},
	)

	// Speech metrics
	speechCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlastalk_speech_calls_total",
			Help: "Total number of text-to-speech and speech-to-text calls",
		},
		[]string{"direction", "status"},
	)

	// System metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlastalk_active_sessions",
			Help: "Number of live roleplay sessions",
		},
	)

	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlastalk_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			storeOpsTotal,
			storeOpDuration,
			agentCallsTotal,
			agentCallDuration,
			goalChecksTotal,
			speechCallsTotal,
			activeSessions,
			goroutines,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStoreOperation records conversation store metrics
func RecordStoreOperation(operation, status string, duration time.Duration) {
	storeOpsTotal.WithLabelValues(operation, status).Inc()
	storeOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAgentCall records upstream agent call metrics
func RecordAgentCall(agent, status string, duration time.Duration) {
	agentCallsTotal.WithLabelValues(agent, status).Inc()
	agentCallDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordGoalCheck records a goal completion check outcome
func RecordGoalCheck(status string) {
	goalChecksTotal.WithLabelValues(status).Inc()
}

// RecordSpeechCall records a TTS or STT call; direction is "tts" or "stt"
func RecordSpeechCall(direction, status string) {
	speechCallsTotal.WithLabelValues(direction, status).Inc()
}

// SetActiveSessions sets the live roleplay session gauge
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// SetGoroutines sets the goroutines gauge
func SetGoroutines(count int) {
	goroutines.Set(float64(count))
}
