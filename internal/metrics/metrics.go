// Package metrics provides Prometheus instrumentation for flagwatch.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only flagwatch metrics appear on the /metrics endpoint.
// [*Metrics] satisfies flagbind.Recorder.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/matt-riley/flagbind"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ flagbind.Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus collectors used by flagwatch.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	InitsTotal          *prometheus.CounterVec
	InitDuration        prometheus.Histogram
	ChangesTotal        *prometheus.CounterVec
	DeferredEventsTotal *prometheus.CounterVec
	FlagCount           prometheus.Gauge
	EvaluationsTotal    *prometheus.CounterVec
	CacheWritesTotal    *prometheus.CounterVec
}

// New creates and registers all flagwatch metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagwatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flagwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		InitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagwatch_provider_inits_total",
			Help: "Provider initialisations by outcome.",
		}, []string{"outcome"}),

		InitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flagwatch_provider_init_duration_seconds",
			Help:    "Time from initialisation start to ready, timeout or failure.",
			Buckets: prometheus.DefBuckets,
		}),

		ChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagwatch_provider_changes_total",
			Help: "Change notifications received, by whether they touched the exposed flags.",
		}, []string{"result"}),

		DeferredEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagwatch_provider_deferred_events_total",
			Help: "Ready or failed events received after an initialisation timeout.",
		}, []string{"event"}),

		FlagCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagwatch_provider_flags",
			Help: "Number of flags in the current snapshot.",
		}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagwatch_flag_evaluations_total",
			Help: "Total number of flag evaluations reported by the client.",
		}, []string{"flag"}),

		CacheWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagwatch_cache_writes_total",
			Help: "Persistent cache writes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InitsTotal,
		m.InitDuration,
		m.ChangesTotal,
		m.DeferredEventsTotal,
		m.FlagCount,
		m.EvaluationsTotal,
		m.CacheWritesTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// InitCompleted records an initialisation outcome and its latency.
func (m *Metrics) InitCompleted(outcome string, elapsed time.Duration) {
	m.InitsTotal.WithLabelValues(outcome).Inc()
	m.InitDuration.Observe(elapsed.Seconds())
}

// ChangeProcessed counts a change notification as applied or skipped.
func (m *Metrics) ChangeProcessed(applied bool) {
	result := "skipped"
	if applied {
		result = "applied"
	}
	m.ChangesTotal.WithLabelValues(result).Inc()
}

// DeferredEvent counts a late ready or failed event.
func (m *Metrics) DeferredEvent(name flagbind.EventName) {
	m.DeferredEventsTotal.WithLabelValues(string(name)).Inc()
}

// FlagsExposed sets the snapshot size gauge.
func (m *Metrics) FlagsExposed(n int) {
	m.FlagCount.Set(float64(n))
}

// RecordEvaluation increments the evaluation counter for key. Its signature
// matches evalclient.Config.OnEvaluation.
func (m *Metrics) RecordEvaluation(key string, _ any) {
	m.EvaluationsTotal.WithLabelValues(key).Inc()
}

// RecordCacheWrite counts a persistent cache write.
func (m *Metrics) RecordCacheWrite(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CacheWritesTotal.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// InstrumentHandler records request count and latency for next under route.
func (m *Metrics) InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		status := strconv.Itoa(rec.status)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}
