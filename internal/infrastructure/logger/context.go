package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	runIDKey  contextKey = "run_id"
	entityKey contextKey = "entity"
	batchKey  contextKey = "batch"
)

// batchScope identifies the batch a call is made for.
type batchScope struct {
	seq    int
	cursor string
}

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRunID tags ctx and its logger with the run identifier.
func WithRunID(ctx context.Context, logger *zap.Logger, runID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, runIDKey, runID)
	enriched := logger.With(zap.String("run_id", runID))
	return WithContext(ctx, enriched), enriched
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// WithEntity tags ctx with the entity being synced.
func WithEntity(ctx context.Context, entity string) context.Context {
	return context.WithValue(ctx, entityKey, entity)
}

// GetEntity retrieves the entity from context
func GetEntity(ctx context.Context) string {
	if e, ok := ctx.Value(entityKey).(string); ok {
		return e
	}
	return ""
}

// WithBatch tags ctx with the 1-based batch number of a run and the cursor
// the batch was read from.
func WithBatch(ctx context.Context, seq int, cursor string) context.Context {
	return context.WithValue(ctx, batchKey, batchScope{seq: seq, cursor: cursor})
}

// SyncFields returns the run, entity and batch fields carried by ctx.
func SyncFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id := GetRunID(ctx); id != "" {
		fields = append(fields, zap.String("run_id", id))
	}
	if e := GetEntity(ctx); e != "" {
		fields = append(fields, zap.String("entity", e))
	}
	if b, ok := ctx.Value(batchKey).(batchScope); ok {
		fields = append(fields, zap.Int("batch", b.seq))
		if b.cursor != "" {
			fields = append(fields, zap.String("cursor", b.cursor))
		}
	}
	return fields
}

// =============================================================================
// Trace Correlation
// =============================================================================

// WithTraceContext adds trace_id and span_id from the context's span.
// Without a valid span the logger is returned unchanged.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}

// L returns the context logger enriched with trace correlation fields.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) *zap.Logger {
	return WithTraceContext(ctx, FromContext(ctx))
}
