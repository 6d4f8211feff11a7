// Package metrics provides Prometheus metrics for the pipeline and the web front-end
package metrics

import (
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry so
// tests and multiple containers never collide on registration.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Pipeline metrics
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec

	// Quality metrics
	ContextRecall    prometheus.Gauge
	ContextPrecision prometheus.Gauge

	// Cache metrics
	EmbeddingCacheHits   prometheus.Counter
	EmbeddingCacheMisses prometheus.Counter
}

// New creates and registers all metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}, []string{"method", "route"}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}, []string{"stage"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_stage_errors_total",
			Help: "Total number of failed pipeline stages",
		}, []string{"stage"}),

		ContextRecall: f.NewGauge(prometheus.GaugeOpts{
			Name: "rag_context_recall",
			Help: "Context recall of the most recent evaluated run",
		}),
		ContextPrecision: f.NewGauge(prometheus.GaugeOpts{
			Name: "rag_context_precision",
			Help: "Context precision of the most recent evaluated run",
		}),

		EmbeddingCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "rag_embedding_cache_hits_total",
			Help: "Total number of query embedding cache hits",
		}),
		EmbeddingCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "rag_embedding_cache_misses_total",
			Help: "Total number of query embedding cache misses",
		}),
	}
}

// ObserveStage records the duration and outcome of a pipeline stage
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

// ObserveScores records evaluation scores. NaN scores are skipped.
func (m *Metrics) ObserveScores(recall, precision float64) {
	if !math.IsNaN(recall) {
		m.ContextRecall.Set(recall)
	}
	if !math.IsNaN(precision) {
		m.ContextPrecision.Set(precision)
	}
}

// Handler returns the /metrics handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
