// Package metrics exposes Prometheus instrumentation for the assessment service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission triggers.
const (
	TriggerManual  = "manual"
	TriggerExpired = "expired"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted     *prometheus.CounterVec
	SessionsSubmitted   *prometheus.CounterVec
	GenerationFailures  prometheus.Counter
	PersistenceFailures prometheus.Counter
	ScorePercentage     *prometheus.HistogramVec
	ActiveSessions      prometheus.Gauge

	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a Metrics registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessor_sessions_started_total",
				Help: "Total number of assessment sessions started",
			},
			[]string{"mode"},
		),
		SessionsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessor_sessions_submitted_total",
				Help: "Total number of assessment sessions submitted",
			},
			[]string{"mode", "trigger"},
		),
		GenerationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assessor_generation_failures_total",
			Help: "Total number of failed question generations",
		}),
		PersistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assessor_persistence_failures_total",
			Help: "Total number of results that could not be saved",
		}),
		ScorePercentage: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assessor_score_percentage",
				Help:    "Distribution of submitted score percentages",
				Buckets: prometheus.LinearBuckets(10, 10, 10),
			},
			[]string{"mode"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assessor_active_sessions",
			Help: "Number of sessions currently accepting answers",
		}),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assessor_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "endpoint"},
		),
	}

	m.registry.MustRegister(
		m.SessionsStarted,
		m.SessionsSubmitted,
		m.GenerationFailures,
		m.PersistenceFailures,
		m.ScorePercentage,
		m.ActiveSessions,
		m.requestCounter,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and durations per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}
