// Package metrics holds the Prometheus collectors of the saga executor and
// the forum event processors. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus metrics for saga runs and event batches.
type Metrics struct {
	registry *prometheus.Registry

	sagaRuns     *prometheus.CounterVec
	sagaDuration *prometheus.HistogramVec
	orphaned     *prometheus.CounterVec

	eventsProcessed *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	batchErrors     *prometheus.CounterVec
	staleRuns       prometheus.Gauge
}

// New creates a metrics registry and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	sagaRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_runs_total",
		Help: "Total number of saga runs by kind and failure stage.",
	}, []string{"kind", "stage"})

	sagaDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_run_duration_seconds",
		Help:    "Duration of saga runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	orphaned := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_orphaned_resources_total",
		Help: "Total number of remote resources left behind by failed compensation.",
	}, []string{"kind"})

	eventsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_events_processed_total",
		Help: "Total number of domain events persisted.",
	}, []string{"processor"})

	eventsDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_events_dropped_total",
		Help: "Total number of domain events dropped before persistence.",
	}, []string{"processor", "reason"})

	batchErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_batch_errors_total",
		Help: "Total number of event batches that failed.",
	}, []string{"processor"})

	staleRuns := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "saga_stale_runs",
		Help: "Saga runs needing reconciliation at the last sweep.",
	})

	registry.MustRegister(sagaRuns, sagaDuration, orphaned, eventsProcessed, eventsDropped, batchErrors, staleRuns)

	return &Metrics{
		registry:        registry,
		sagaRuns:        sagaRuns,
		sagaDuration:    sagaDuration,
		orphaned:        orphaned,
		eventsProcessed: eventsProcessed,
		eventsDropped:   eventsDropped,
		batchErrors:     batchErrors,
		staleRuns:       staleRuns,
	}
}

// Handler exposes the metrics registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSagaRun records one finished saga run.
func (m *Metrics) ObserveSagaRun(kind, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.sagaRuns.WithLabelValues(kind, stage).Inc()
	m.sagaDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// AddOrphaned counts resources that compensation could not delete.
func (m *Metrics) AddOrphaned(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphaned.WithLabelValues(kind).Add(float64(n))
}

// AddProcessed counts persisted events.
func (m *Metrics) AddProcessed(processor string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsProcessed.WithLabelValues(processor).Add(float64(n))
}

// IncDropped counts one event dropped for reason.
func (m *Metrics) IncDropped(processor, reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(processor, reason).Inc()
}

// IncBatchError counts one failed batch.
func (m *Metrics) IncBatchError(processor string) {
	if m == nil {
		return
	}
	m.batchErrors.WithLabelValues(processor).Inc()
}

// SetStaleRuns sets the stale run gauge.
func (m *Metrics) SetStaleRuns(n int) {
	if m == nil {
		return
	}
	m.staleRuns.Set(float64(n))
}
