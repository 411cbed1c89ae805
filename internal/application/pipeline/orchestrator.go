// Package pipeline runs the extract, map, validate and load pipeline for each
// entity, checkpointing progress and dead-lettering records that fail.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/mapping"
	"github.com/erp/commerce-sync/internal/domain/validation"
	"github.com/erp/commerce-sync/internal/infrastructure/retry"
	"github.com/erp/commerce-sync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults applied when Config or RunOptions leave a value at zero
const (
	DefaultBatchSize   = 50
	DefaultConcurrency = 4
)

// Config tunes the orchestrator
type Config struct {
	BatchSize   int
	Concurrency int
	Retry       retry.Policy
	// SourceLimiter and TargetLimiter gate every request to the source and
	// the target system, retries included. Nil means unlimited.
	SourceLimiter retry.Limiter
	TargetLimiter retry.Limiter
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		Concurrency: DefaultConcurrency,
		Retry:       retry.DefaultPolicy(),
	}
}

// Dependencies are the ports the orchestrator drives. Loader may be nil when
// only dry runs are made; Runs and Media are optional.
type Dependencies struct {
	Extractor   integration.Extractor
	Loader      integration.Loader
	Catalog     *mapping.Catalog
	Validator   *validation.Validator
	Checkpoints checkpoint.Repository
	DLQ         deadletter.Repository
	Locker      integration.EntityLocker
	Runs        checkpoint.RunRepository
	Media       integration.MediaUploader
}

func (d Dependencies) validate() error {
	missing := func(name string) error {
		return fmt.Errorf("%w: %s", ErrMissingDependency, name)
	}
	switch {
	case d.Extractor == nil:
		return missing("extractor")
	case d.Catalog == nil:
		return missing("mapping catalog")
	case d.Validator == nil:
		return missing("validator")
	case d.Checkpoints == nil:
		return missing("checkpoint repository")
	case d.DLQ == nil:
		return missing("dead letter repository")
	case d.Locker == nil:
		return missing("entity locker")
	}
	return nil
}

// RunOptions control one run
type RunOptions struct {
	DryRun bool
	// Since restricts extraction to records updated at or after it. It wins
	// over Delta.
	Since *time.Time
	// Delta uses the previous completed run of the entity as Since.
	Delta bool
	// BatchSize and Concurrency override Config when positive.
	BatchSize   int
	Concurrency int
}

// RunResult describes a finished entity run
type RunResult struct {
	RunID      uuid.UUID
	Entity     integration.EntityType
	State      State
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      checkpoint.Counts
	// Checkpoint is the last committed progress after the run.
	Checkpoint *checkpoint.Checkpoint
	// Planned holds the writes of a dry run.
	Planned []PlannedWrite
	Err     error
}

// Duration is the wall time of the run
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Orchestrator runs entity migrations. It is safe for concurrent use; runs of
// the same entity are serialized by the entity locker.
type Orchestrator struct {
	deps     Dependencies
	cfg      Config
	logger   *zap.Logger
	recorder telemetry.PipelineRecorder
	now      func() time.Time
}

// Option is a functional option for configuring Orchestrator
type Option func(*Orchestrator)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithRecorder sends run events to a metrics recorder
func WithRecorder(r telemetry.PipelineRecorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Dependencies, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	o := &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		logger:   zap.NewNop(),
		recorder: telemetry.NopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// executor builds a retry executor that reports retries of entity
func (o *Orchestrator) executor(ctx context.Context, entity integration.EntityType, limiter retry.Limiter, logger *zap.Logger) *retry.Executor {
	opts := []retry.Option{
		retry.WithLogger(logger),
		retry.WithRetryHook(func(int, error, time.Duration) {
			o.recorder.RecordRetry(ctx, entity.String())
		}),
	}
	if limiter != nil {
		opts = append(opts, retry.WithLimiter(limiter))
	}
	return retry.New(o.cfg.Retry, opts...)
}

// RunEntity migrates one entity. Per-record failures are dead-lettered and
// counted; a fatal failure ends the run in StateFailed and is returned as
// *RunError alongside the result. A second concurrent run of the same entity
// fails with integration.ErrEntityLocked before starting.
func (o *Orchestrator) RunEntity(ctx context.Context, entity integration.EntityType, opts RunOptions) (*RunResult, error) {
	if !entity.IsValid() {
		return nil, fmt.Errorf("%w: %q", integration.ErrUnknownEntity, entity)
	}
	resolver, err := o.deps.Catalog.Resolver(entity)
	if err != nil {
		return nil, err
	}
	if !opts.DryRun && o.deps.Loader == nil {
		return nil, ErrNoLoader
	}

	ctx, release, err := lockEntity(ctx, o.deps.Locker, entity)
	if err != nil {
		return nil, err
	}
	defer release()

	r := o.newRun(ctx, entity, resolver, opts)
	ctx = r.ctx

	ctx, span := telemetry.StartSpan(ctx, "pipeline.run_entity",
		telemetry.SpanAttrEntity, entity.String(),
		telemetry.SpanAttrRunID, r.id.String(),
		telemetry.SpanAttrDryRun, opts.DryRun,
	)
	defer span.End()

	r.logger.Info("Entity run started",
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("delta", opts.Delta),
		zap.Int("batch_size", r.batchSize),
		zap.Int("concurrency", r.concurrency),
	)

	runErr := r.execute(ctx)
	result := r.finish(ctx, runErr)
	if runErr != nil {
		telemetry.RecordError(span, runErr)
		return result, runErr
	}
	return result, nil
}
