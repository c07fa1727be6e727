// Package metrics holds the Prometheus collectors for the auth service.
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

type Metrics struct {
	Registrations      *prometheus.CounterVec
	Callbacks          *prometheus.CounterVec
	Refreshes          *prometheus.CounterVec
	SessionResolutions *prometheus.CounterVec
	ReaperDeleted      prometheus.Counter
	ReaperRuns         *prometheus.CounterVec
	PendingAccounts    prometheus.Gauge
	RequestCount       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medihan_registrations_total",
				Help: "Registration attempts by phase and result.",
			},
			[]string{"phase", "result"},
		),
		Callbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medihan_oauth_callbacks_total",
				Help: "OAuth callbacks by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medihan_token_refreshes_total",
				Help: "Access token refreshes by result.",
			},
			[]string{"result"},
		),
		SessionResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medihan_session_resolutions_total",
				Help: "Resolved sessions by source.",
			},
			[]string{"source"},
		),
		ReaperDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "medihan_reaper_deleted_accounts_total",
				Help: "PENDING accounts deleted by the reaper.",
			},
		),
		ReaperRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medihan_reaper_runs_total",
				Help: "Reaper sweeps by result.",
			},
			[]string{"result"},
		),
		PendingAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "medihan_pending_accounts",
				Help: "PENDING accounts observed at the last sweep.",
			},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	registry.MustRegister(
		m.Registrations,
		m.Callbacks,
		m.Refreshes,
		m.SessionResolutions,
		m.ReaperDeleted,
		m.ReaperRuns,
		m.PendingAccounts,
		m.RequestCount,
		m.RequestDuration,
	)
	return m
}

// NewProcessRegistry returns a registry preloaded with the Go runtime and
// process collectors.
func NewProcessRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency labelled by chi route
// pattern, so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"path":   path,
			"status": strconv.Itoa(status),
		}
		m.RequestCount.With(labels).Inc()
		m.RequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}
