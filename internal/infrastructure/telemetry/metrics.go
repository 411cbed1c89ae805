package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ExportInterval    time.Duration // Default: 60s
	ServiceName       string
	Insecure          bool
}

// MeterProvider wraps the OpenTelemetry MeterProvider with lifecycle management.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
	config   MetricsConfig
}

// NewMeterProvider creates and configures a new MeterProvider.
// If metrics are disabled, Meter falls back to the global no-op meter.
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{
		logger: logger,
		config: cfg,
	}

	if !cfg.Enabled {
		logger.Debug("Metrics disabled, using no-op meter provider")
		return mp, nil
	}

	exportInterval := cfg.ExportInterval
	if exportInterval == 0 {
		exportInterval = 60 * time.Second
	}

	exporterOpts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval)),
		),
	)
	otel.SetMeterProvider(mp.provider)

	logger.Info("OpenTelemetry MeterProvider initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Duration("export_interval", exportInterval),
	)

	return mp, nil
}

// Shutdown flushes pending metrics.
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := mp.provider.Shutdown(shutdownCtx); err != nil {
		mp.logger.Error("Error shutting down meter provider", zap.Error(err))
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

// Meter returns a named meter from the provider.
func (mp *MeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if mp.provider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return mp.provider.Meter(name, opts...)
}

// IsEnabled returns whether metrics are enabled.
func (mp *MeterProvider) IsEnabled() bool {
	return mp.config.Enabled && mp.provider != nil
}

// =============================================================================
// Pipeline metrics
// =============================================================================

// Record outcomes reported through PipelineRecorder.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeDLQ     = "dlq"
	OutcomeSkipped = "skipped"
	OutcomeDryRun  = "dry_run"
	OutcomeFailed  = "failed"
)

// Common attribute keys.
var (
	AttrEntity  = attribute.Key("entity")
	AttrOutcome = attribute.Key("outcome")
	AttrState   = attribute.Key("state")
)

// BatchDurationBuckets are bucket boundaries for batch processing time (seconds).
var BatchDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// PipelineRecorder receives the events of a sync run.
type PipelineRecorder interface {
	RecordOutcome(ctx context.Context, entity, outcome string, n int64)
	RecordBatch(ctx context.Context, entity string, size int, d time.Duration)
	RecordRetry(ctx context.Context, entity string)
	RecordRun(ctx context.Context, entity, state string, d time.Duration)
	SetDLQBacklog(ctx context.Context, entity string, n int64)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) RecordOutcome(context.Context, string, string, int64) {}
func (NopRecorder) RecordBatch(context.Context, string, int, time.Duration) {}
func (NopRecorder) RecordRetry(context.Context, string) {}
func (NopRecorder) RecordRun(context.Context, string, string, time.Duration) {}
func (NopRecorder) SetDLQBacklog(context.Context, string, int64) {}

// Recorders fans every event out to each recorder in order.
type Recorders []PipelineRecorder

func (rs Recorders) RecordOutcome(ctx context.Context, entity, outcome string, n int64) {
	for _, r := range rs {
		r.RecordOutcome(ctx, entity, outcome, n)
	}
}

func (rs Recorders) RecordBatch(ctx context.Context, entity string, size int, d time.Duration) {
	for _, r := range rs {
		r.RecordBatch(ctx, entity, size, d)
	}
}

func (rs Recorders) RecordRetry(ctx context.Context, entity string) {
	for _, r := range rs {
		r.RecordRetry(ctx, entity)
	}
}

func (rs Recorders) RecordRun(ctx context.Context, entity, state string, d time.Duration) {
	for _, r := range rs {
		r.RecordRun(ctx, entity, state, d)
	}
}

func (rs Recorders) SetDLQBacklog(ctx context.Context, entity string, n int64) {
	for _, r := range rs {
		r.SetDLQBacklog(ctx, entity, n)
	}
}

// PipelineMetrics records pipeline events as OpenTelemetry instruments.
type PipelineMetrics struct {
	records    metric.Int64Counter
	batchSize  metric.Int64Histogram
	batchTime  metric.Float64Histogram
	retries    metric.Int64Counter
	runs       metric.Int64Counter
	runTime    metric.Float64Histogram
	dlqBacklog metric.Int64Gauge
}

// NewPipelineMetrics creates the pipeline instruments on meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	var (
		m   PipelineMetrics
		err error
	)
	if m.records, err = meter.Int64Counter("sync_records_total",
		metric.WithDescription("Records that reached a terminal outcome"),
		metric.WithUnit("{record}")); err != nil {
		return nil, fmt.Errorf("failed to create counter sync_records_total: %w", err)
	}
	if m.batchSize, err = meter.Int64Histogram("sync_batch_size",
		metric.WithDescription("Records per processed batch"),
		metric.WithUnit("{record}")); err != nil {
		return nil, fmt.Errorf("failed to create histogram sync_batch_size: %w", err)
	}
	if m.batchTime, err = meter.Float64Histogram("sync_batch_duration_seconds",
		metric.WithDescription("Wall time of one batch from fetch to checkpoint"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(BatchDurationBuckets...)); err != nil {
		return nil, fmt.Errorf("failed to create histogram sync_batch_duration_seconds: %w", err)
	}
	if m.retries, err = meter.Int64Counter("sync_retries_total",
		metric.WithDescription("Retried remote calls"),
		metric.WithUnit("{retry}")); err != nil {
		return nil, fmt.Errorf("failed to create counter sync_retries_total: %w", err)
	}
	if m.runs, err = meter.Int64Counter("sync_runs_total",
		metric.WithDescription("Finished entity runs by final state"),
		metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("failed to create counter sync_runs_total: %w", err)
	}
	if m.runTime, err = meter.Float64Histogram("sync_run_duration_seconds",
		metric.WithDescription("Wall time of an entity run"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create histogram sync_run_duration_seconds: %w", err)
	}
	if m.dlqBacklog, err = meter.Int64Gauge("sync_dlq_backlog",
		metric.WithDescription("Entries waiting in the dead letter queue"),
		metric.WithUnit("{entry}")); err != nil {
		return nil, fmt.Errorf("failed to create gauge sync_dlq_backlog: %w", err)
	}
	return &m, nil
}

func (m *PipelineMetrics) RecordOutcome(ctx context.Context, entity, outcome string, n int64) {
	m.records.Add(ctx, n, metric.WithAttributes(AttrEntity.String(entity), AttrOutcome.String(outcome)))
}

func (m *PipelineMetrics) RecordBatch(ctx context.Context, entity string, size int, d time.Duration) {
	attrs := metric.WithAttributes(AttrEntity.String(entity))
	m.batchSize.Record(ctx, int64(size), attrs)
	m.batchTime.Record(ctx, d.Seconds(), attrs)
}

func (m *PipelineMetrics) RecordRetry(ctx context.Context, entity string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(AttrEntity.String(entity)))
}

func (m *PipelineMetrics) RecordRun(ctx context.Context, entity, state string, d time.Duration) {
	attrs := metric.WithAttributes(AttrEntity.String(entity), AttrState.String(state))
	m.runs.Add(ctx, 1, attrs)
	m.runTime.Record(ctx, d.Seconds(), attrs)
}

func (m *PipelineMetrics) SetDLQBacklog(ctx context.Context, entity string, n int64) {
	m.dlqBacklog.Record(ctx, n, metric.WithAttributes(AttrEntity.String(entity)))
}
