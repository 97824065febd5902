// Package metrics exposes pipeline counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aemet"

// Metrics holds the pipeline collectors
type Metrics struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.CounterVec
	cacheHit *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by dataset, outcome and error class.",
		}, []string{"dataset", "status", "error_class"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of a pipeline run, both hops included.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"dataset"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_emitted_total",
			Help:      "Rows produced by successful runs.",
		}, []string{"dataset"}),
		cacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Requests served from the result cache.",
		}, []string{"dataset"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.duration, m.rows, m.cacheHit,
	)
	return m
}

// ObserveRun records one pipeline run
func (m *Metrics) ObserveRun(dataset, status, errorClass string, elapsed time.Duration, rows int) {
	m.runs.WithLabelValues(dataset, status, errorClass).Inc()
	m.duration.WithLabelValues(dataset).Observe(elapsed.Seconds())
	if rows > 0 {
		m.rows.WithLabelValues(dataset).Add(float64(rows))
	}
}

// ObserveCacheHit records a request served from the cache
func (m *Metrics) ObserveCacheHit(dataset string) {
	m.cacheHit.WithLabelValues(dataset).Inc()
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
