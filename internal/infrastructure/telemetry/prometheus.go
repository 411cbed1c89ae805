package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metric names.
const (
	PromRecordsTotal        = "records_total"
	PromBatchDurationSecond = "batch_duration_seconds"
	PromRetriesTotal        = "retries_total"
	PromRunsTotal           = "runs_total"
	PromDLQBacklog          = "dlq_backlog"
)

// PromMetrics exposes pipeline events for Prometheus scraping.
// It uses its own registry so tests and multiple instances never collide.
type PromMetrics struct {
	registry      *prometheus.Registry
	records       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	runs          *prometheus.CounterVec
	dlqBacklog    *prometheus.GaugeVec
}

// NewPromMetrics creates the collectors under the given namespace ("sync" when empty).
// Go runtime and process collectors are registered alongside.
func NewPromMetrics(namespace string) *PromMetrics {
	if namespace == "" {
		namespace = "sync"
	}
	m := &PromMetrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      PromRecordsTotal,
			Help:      "Records that reached a terminal outcome.",
		}, []string{"entity", "outcome"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      PromBatchDurationSecond,
			Help:      "Wall time of one batch from fetch to checkpoint.",
			Buckets:   BatchDurationBuckets,
		}, []string{"entity"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      PromRetriesTotal,
			Help:      "Retried remote calls.",
		}, []string{"entity"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      PromRunsTotal,
			Help:      "Finished entity runs by final state.",
		}, []string{"entity", "state"}),
		dlqBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      PromDLQBacklog,
			Help:      "Entries waiting in the dead letter queue.",
		}, []string{"entity"}),
	}
	m.registry.MustRegister(
		m.records, m.batchDuration, m.retries, m.runs, m.dlqBacklog,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *PromMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PromMetrics) RecordOutcome(_ context.Context, entity, outcome string, n int64) {
	m.records.WithLabelValues(entity, outcome).Add(float64(n))
}

func (m *PromMetrics) RecordBatch(_ context.Context, entity string, _ int, d time.Duration) {
	m.batchDuration.WithLabelValues(entity).Observe(d.Seconds())
}

func (m *PromMetrics) RecordRetry(_ context.Context, entity string) {
	m.retries.WithLabelValues(entity).Inc()
}

func (m *PromMetrics) RecordRun(_ context.Context, entity, state string, _ time.Duration) {
	m.runs.WithLabelValues(entity, state).Inc()
}

func (m *PromMetrics) SetDLQBacklog(_ context.Context, entity string, n int64) {
	m.dlqBacklog.WithLabelValues(entity).Set(float64(n))
}
