// Package metrics exposes Prometheus counters for the review workflow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pwannenmacher/MetaRate/internal/models"
)

const namespace = "metarate"

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry         *prometheus.Registry
	logins           *prometheus.CounterVec
	submissions      *prometheus.CounterVec
	logWriteFailures *prometheus.CounterVec
	requests         *prometheus.HistogramVec
}

// New registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_submitted_total",
			Help:      "Ratings recorded in the action log by category.",
		}, []string{"rating"}),
		logWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_log_write_failures_total",
			Help:      "Action log appends that could not be made durable.",
		}, []string{"action"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}

	m.registry.MustRegister(
		m.logins,
		m.submissions,
		m.logWriteFailures,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// LoginAttempt counts a login by outcome
func (m *Metrics) LoginAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.logins.WithLabelValues(result).Inc()
}

// RatingSubmitted counts a recorded rating
func (m *Metrics) RatingSubmitted(rating models.Rating) {
	m.submissions.WithLabelValues(string(rating)).Inc()
}

// LogWriteFailed counts an append that failed
func (m *Metrics) LogWriteFailed(action models.ActionKind) {
	m.logWriteFailures.WithLabelValues(string(action)).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument records the latency of every request
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.requests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}
