package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/mapping"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/erp/commerce-sync/internal/domain/validation"
	"github.com/erp/commerce-sync/internal/infrastructure/logger"
	"github.com/erp/commerce-sync/internal/infrastructure/retry"
	"github.com/erp/commerce-sync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// run is the state of one RunEntity call
type run struct {
	o        *Orchestrator
	ctx      context.Context
	id       uuid.UUID
	entity   integration.EntityType
	opts     RunOptions
	resolver *mapping.Resolver
	logger   *zap.Logger

	batchSize   int
	concurrency int

	loader      integration.Loader
	dryRun      *DryRunLoader
	extractExec *retry.Executor
	loadExec    *retry.Executor

	sm         *stateMachine
	stats      Stats
	startedAt  time.Time
	checkpoint *checkpoint.Checkpoint
	// since is the updated_at window of this run, nil for a full read.
	since *time.Time
	// fullStream is set when the run reads the entity from its first page
	// without an updated_at window, so its references are complete.
	fullStream bool

	refsMu sync.Mutex
	refs   []string
	// loadedKeys holds stable keys loaded this run; repeats are skipped.
	loadedKeys sync.Map
}

// item is one record travelling through a batch
type item struct {
	raw  record.Record
	rec  record.Record
	done bool
}

func (o *Orchestrator) newRun(ctx context.Context, entity integration.EntityType, resolver *mapping.Resolver, opts RunOptions) *run {
	r := &run{
		o:           o,
		id:          uuid.New(),
		entity:      entity,
		opts:        opts,
		resolver:    resolver,
		batchSize:   o.cfg.BatchSize,
		concurrency: o.cfg.Concurrency,
		sm:          newStateMachine(),
		startedAt:   o.now().UTC(),
	}
	if opts.BatchSize > 0 {
		r.batchSize = opts.BatchSize
	}
	if opts.Concurrency > 0 {
		r.concurrency = opts.Concurrency
	}
	r.ctx, r.logger = logger.WithRunID(logger.WithEntity(ctx, entity.String()), o.logger.With(zap.String("entity", entity.String())), r.id.String())

	r.extractExec = o.executor(r.ctx, entity, o.cfg.SourceLimiter, r.logger)
	if opts.DryRun {
		r.dryRun = NewDryRunLoader()
		r.loader = r.dryRun
		r.loadExec = o.executor(r.ctx, entity, nil, r.logger)
	} else {
		r.loader = o.deps.Loader
		r.loadExec = o.executor(r.ctx, entity, o.cfg.TargetLimiter, r.logger)
	}
	return r
}

// execute drives the state machine until the stream ends, the context is
// cancelled between batches or a fatal error occurs.
func (r *run) execute(ctx context.Context) error {
	cp, err := r.o.deps.Checkpoints.Load(ctx, r.entity)
	if err != nil {
		return r.fail(err)
	}
	r.checkpoint = cp

	since := r.opts.Since
	if since == nil && r.opts.Delta && cp != nil && !cp.LastRunAt.IsZero() {
		watermark := cp.LastRunAt
		since = &watermark
	}
	r.since = since

	// a page cursor only addresses the result set it was read from
	cursor := ""
	switch {
	case cp.ResumableWith(since, r.batchSize):
		cursor = cp.LastProcessedCursor
		r.logger.Info("Resuming from checkpoint",
			zap.String("cursor", cursor),
			zap.Int64("records_processed", cp.RecordsProcessed))
	case cp != nil && cp.LastProcessedCursor != "":
		fields := []zap.Field{
			zap.String("cursor", cp.LastProcessedCursor),
			zap.Int("checkpoint_page_size", cp.PageSize),
			zap.Int("page_size", r.batchSize),
		}
		if cp.UpdatedSince != nil {
			fields = append(fields, zap.Time("checkpoint_updated_since", *cp.UpdatedSince))
		}
		if since != nil {
			fields = append(fields, zap.Time("updated_since", *since))
		}
		r.logger.Warn("Checkpoint cursor belongs to a different extraction window, restarting from the first page", fields...)
	}
	r.fullStream = since == nil && cursor == ""
	filters := integration.Filters{UpdatedSince: since, PageSize: r.batchSize}

	for batch := 1; ; batch++ {
		if ctx.Err() != nil {
			return r.cancel(context.Cause(ctx))
		}
		if err := r.sm.transition(StateExtracting); err != nil {
			return r.fail(err)
		}

		page, err := retry.Execute(ctx, r.extractExec, func(ctx context.Context) (*integration.Page, error) {
			return r.o.deps.Extractor.FetchPage(ctx, r.entity, cursor, filters)
		})
		if err != nil {
			if ctx.Err() != nil {
				return r.cancel(context.Cause(ctx))
			}
			return r.fail(fmt.Errorf("extract %s page %q: %w", r.entity, cursor, err))
		}
		if len(page.Records) == 0 && !page.HasMore() {
			break
		}

		// an in-flight batch always runs to completion and is committed;
		// cancellation is honoured at the next boundary
		batchCtx := logger.WithBatch(context.WithoutCancel(ctx), batch, cursor)
		if err := r.processBatch(batchCtx, page.Records); err != nil {
			return r.fail(err)
		}
		next := ""
		if page.HasMore() {
			next = *page.NextCursor
		}
		if err := r.commit(batchCtx, next, len(page.Records)); err != nil {
			return r.fail(err)
		}
		if !page.HasMore() {
			break
		}
		cursor = next
	}
	return r.complete(context.WithoutCancel(ctx))
}

// commit saves the checkpoint after every record of a batch reached a
// terminal outcome. The delta watermark only moves when the run completes.
func (r *run) commit(ctx context.Context, next string, n int) error {
	if err := r.sm.transition(StateCheckpointing); err != nil {
		return err
	}
	if r.opts.DryRun {
		return nil
	}
	var watermark time.Time
	if r.checkpoint != nil {
		watermark = r.checkpoint.LastRunAt
	}
	cp := r.checkpoint.Advance(next, n, watermark).WithWindow(r.since, r.batchSize)
	cp.Entity = r.entity
	if err := r.o.deps.Checkpoints.Save(ctx, cp); err != nil {
		return err
	}
	r.checkpoint = cp
	r.logger.Debug("Checkpoint saved",
		zap.String("cursor", next),
		zap.Int64("records_processed", cp.RecordsProcessed))
	return nil
}

// complete resets the cursor, records the run start as the next delta
// watermark and publishes the references the run observed.
func (r *run) complete(ctx context.Context) error {
	if !r.opts.DryRun {
		cp := r.checkpoint.Advance("", 0, r.startedAt)
		cp.Entity = r.entity
		if err := r.o.deps.Checkpoints.Save(ctx, cp); err != nil {
			return r.fail(err)
		}
		r.checkpoint = cp
	}
	r.publishReferences()
	if err := r.sm.transition(StateCompleted); err != nil {
		return r.fail(err)
	}
	return nil
}

func (r *run) fail(err error) error {
	state := r.sm.State()
	_ = r.sm.transition(StateFailed)
	return &RunError{Entity: r.entity, State: state, LastCheckpoint: r.checkpoint, Err: err}
}

func (r *run) cancel(err error) error {
	state := r.sm.State()
	_ = r.sm.transition(StateCancelled)
	return &RunError{Entity: r.entity, State: state, LastCheckpoint: r.checkpoint, Err: err}
}

// finish freezes the counters, records the run and builds the result
func (r *run) finish(ctx context.Context, runErr error) *RunResult {
	finishedAt := r.o.now().UTC()
	result := &RunResult{
		RunID:      r.id,
		Entity:     r.entity,
		State:      r.sm.State(),
		DryRun:     r.opts.DryRun,
		StartedAt:  r.startedAt,
		FinishedAt: finishedAt,
		Stats:      r.stats.freeze(),
		Checkpoint: r.checkpoint,
		Err:        runErr,
	}
	if r.dryRun != nil {
		result.Planned = r.dryRun.Planned()
	}

	ctx = context.WithoutCancel(ctx)
	if r.o.deps.Runs != nil {
		rec := &checkpoint.RunRecord{
			ID:         r.id,
			Entity:     r.entity,
			StartedAt:  r.startedAt,
			FinishedAt: finishedAt,
			State:      result.State.String(),
			DryRun:     r.opts.DryRun,
			Stats:      result.Stats,
		}
		if runErr != nil {
			rec.Error = runErr.Error()
		}
		if err := r.o.deps.Runs.Save(ctx, rec); err != nil {
			r.logger.Error("Failed to record run", zap.Error(err))
		}
	}
	r.o.recorder.RecordRun(ctx, r.entity.String(), result.State.String(), result.Duration())
	if backlog, err := r.o.deps.DLQ.Count(ctx, r.entity); err == nil {
		r.o.recorder.SetDLQBacklog(ctx, r.entity.String(), backlog)
	}

	fields := []zap.Field{
		zap.String("state", result.State.String()),
		zap.Duration("duration", result.Duration()),
		zap.Int64("extracted", result.Stats.Extracted),
		zap.Int64("loaded", result.Stats.Loaded),
		zap.Int64("created", result.Stats.Created),
		zap.Int64("updated", result.Stats.Updated),
		zap.Int64("failed", result.Stats.Failed),
		zap.Int64("dlq", result.Stats.DLQd),
		zap.Int64("skipped", result.Stats.Skipped),
	}
	switch result.State {
	case StateCompleted:
		r.logger.Info("Entity run completed", fields...)
	case StateCancelled:
		r.logger.Warn("Entity run cancelled", fields...)
	default:
		r.logger.Error("Entity run failed", append(fields, zap.Error(runErr))...)
	}
	return result
}

// ---------------------------------------------------------------------------
// Batch processing
// ---------------------------------------------------------------------------

func (r *run) processBatch(ctx context.Context, raws []record.Record) error {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "pipeline.batch",
		telemetry.SpanAttrEntity, r.entity.String(),
		telemetry.SpanAttrBatchSize, len(raws),
	)
	defer span.End()

	r.stats.add(&r.stats.extracted, int64(len(raws)))
	items := make([]*item, len(raws))
	for i, raw := range raws {
		items[i] = &item{raw: raw}
	}

	phases := []struct {
		state State
		fn    func(context.Context, *item) error
	}{
		{StateMapping, r.mapItem},
		{StateValidating, r.validateItem},
		{StateLoading, r.loadItem},
	}

	var err error
	telemetry.WithEntityLabels(ctx, r.entity.String(), "batch", func(ctx context.Context) {
		for _, phase := range phases {
			if err = r.sm.transition(phase.state); err != nil {
				return
			}
			if err = r.forEach(ctx, items, phase.fn); err != nil {
				return
			}
		}
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	r.o.recorder.RecordBatch(ctx, r.entity.String(), len(raws), time.Since(start))
	r.logger.Debug("Batch processed",
		zap.Int("records", len(raws)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// forEach runs fn on every pending item with at most concurrency workers and
// joins them. The first error cancels the remaining work.
func (r *run) forEach(ctx context.Context, items []*item, fn func(context.Context, *item) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, it := range items {
		if it.done {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, it)
		})
	}
	return g.Wait()
}

func (r *run) mapItem(ctx context.Context, it *item) error {
	if reason := skipReason(r.entity, it.raw); reason != "" {
		r.skip(ctx, it, reason)
		return nil
	}

	res, err := r.resolver.Resolve(it.raw)
	if err != nil {
		return r.deadLetter(ctx, it, err)
	}
	for _, w := range res.Warnings {
		r.logger.Debug("Mapping warning", zap.String("warning", w))
	}
	r.stats.add(&r.stats.transformed, 1)
	it.rec = res.Record

	r.collectReference(it.rec)
	return nil
}

// validateItem checks the mapped record. Images are only re-hosted for
// records that passed, so dead-lettered products upload nothing.
func (r *run) validateItem(ctx context.Context, it *item) error {
	result := r.o.deps.Validator.Validate(it.rec, r.entity)
	if !result.Valid {
		return r.deadLetter(ctx, it, result.Err(r.entity))
	}
	r.stats.add(&r.stats.validated, 1)
	if r.entity == integration.EntityProduct && r.o.deps.Media != nil && !r.opts.DryRun {
		rehostImages(ctx, r.o.deps.Media, r.logger, it.rec)
	}
	return nil
}

func (r *run) loadItem(ctx context.Context, it *item) error {
	key, err := integration.StableKey(r.entity, it.rec)
	if err != nil {
		return r.deadLetter(ctx, it, err)
	}
	if _, dup := r.loadedKeys.LoadOrStore(key, struct{}{}); dup {
		r.skip(ctx, it, "duplicate "+key)
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "pipeline.upsert",
		telemetry.SpanAttrEntity, r.entity.String(),
		telemetry.SpanAttrStableKey, key,
	)
	defer span.End()

	res, err := retry.Execute(ctx, r.loadExec, func(ctx context.Context) (*integration.UpsertResult, error) {
		return r.loader.Upsert(ctx, r.entity, it.rec)
	})
	if err != nil {
		r.loadedKeys.Delete(key)
		telemetry.RecordError(span, err)
		if isFatal(err) || ctx.Err() != nil {
			return err
		}
		if r.opts.DryRun {
			it.done = true
			r.stats.add(&r.stats.failed, 1)
			r.o.recorder.RecordOutcome(ctx, r.entity.String(), telemetry.OutcomeFailed, 1)
			r.logger.Warn("Dry-run load failed", zap.String("key", key), zap.Error(err))
			return nil
		}
		return r.deadLetter(ctx, it, err)
	}

	it.done = true
	r.stats.add(&r.stats.loaded, 1)
	outcome := telemetry.OutcomeUpdated
	switch {
	case r.opts.DryRun:
		outcome = telemetry.OutcomeDryRun
	case res.Created:
		outcome = telemetry.OutcomeCreated
	}
	if res.Created {
		r.stats.add(&r.stats.created, 1)
	} else {
		r.stats.add(&r.stats.updated, 1)
	}
	r.o.recorder.RecordOutcome(ctx, r.entity.String(), outcome, 1)
	return nil
}

// deadLetter moves a failed record to the dead letter queue. Only a storage
// failure of the queue itself is returned.
func (r *run) deadLetter(ctx context.Context, it *item, cause error) error {
	it.done = true
	r.stats.add(&r.stats.failed, 1)

	entry := deadletter.NewEntry(r.entity, it.raw, cause)
	if err := r.o.deps.DLQ.Enqueue(ctx, entry); err != nil {
		return err
	}
	r.stats.add(&r.stats.dlqd, 1)
	r.o.recorder.RecordOutcome(ctx, r.entity.String(), telemetry.OutcomeDLQ, 1)

	var verr *validation.Error
	if errors.As(cause, &verr) {
		r.logger.Warn("Record failed validation",
			zap.String("dlq_id", entry.ID.String()),
			zap.Int("violations", len(verr.Result.Violations)),
			zap.Error(cause))
		return nil
	}
	r.logger.Warn("Record dead-lettered",
		zap.String("dlq_id", entry.ID.String()),
		zap.String("kind", entry.ErrorKind.String()),
		zap.Int("retry_count", entry.RetryCount),
		zap.Error(cause))
	return nil
}

func (r *run) skip(ctx context.Context, it *item, reason string) {
	it.done = true
	r.stats.add(&r.stats.skipped, 1)
	r.o.recorder.RecordOutcome(ctx, r.entity.String(), telemetry.OutcomeSkipped, 1)
	r.logger.Debug("Record skipped", zap.String("reason", reason))
}

// skipReason returns why a source record is not migrated at all, or "".
// The source's root categories have no counterpart on the target.
func skipReason(entity integration.EntityType, raw record.Record) string {
	if entity == integration.EntityCategory {
		switch raw.GetString("id") {
		case "1", "2":
			return "root category"
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// References and media
// ---------------------------------------------------------------------------

func referenceNamespace(entity integration.EntityType) (validation.Namespace, bool) {
	switch entity {
	case integration.EntityProduct:
		return validation.NamespaceProductSKU, true
	case integration.EntityCustomer:
		return validation.NamespaceCustomerEmail, true
	}
	return "", false
}

func (r *run) collectReference(rec record.Record) {
	if _, ok := referenceNamespace(r.entity); !ok {
		return
	}
	key, err := integration.StableKey(r.entity, rec)
	if err != nil {
		return
	}
	r.refsMu.Lock()
	r.refs = append(r.refs, key)
	r.refsMu.Unlock()
}

// publishReferences hands the observed identifiers to the validator. A run
// that saw only part of the entity leaves the namespace unknown, so later
// entities are not checked against an incomplete set.
func (r *run) publishReferences() {
	ns, ok := referenceNamespace(r.entity)
	if !ok {
		return
	}
	if !r.fullStream {
		r.logger.Debug("Partial run, references not published", zap.String("namespace", string(ns)))
		return
	}
	refs := r.o.deps.Validator.References()
	r.refsMu.Lock()
	defer r.refsMu.Unlock()
	refs.MarkPopulated(ns)
	refs.Add(ns, r.refs...)
}

// rehostImages replaces images[*].url with re-hosted copies. An image that
// cannot be re-hosted is dropped with a warning.
func rehostImages(ctx context.Context, media integration.MediaUploader, logger *zap.Logger, rec record.Record) {
	images, ok := record.AsSlice(rec["images"])
	if !ok {
		return
	}
	kept := make([]any, 0, len(images))
	for _, img := range images {
		m, ok := record.AsMap(img)
		if !ok {
			continue
		}
		src, _ := m["url"].(string)
		if src == "" {
			continue
		}
		hosted, err := media.Upload(ctx, src)
		if err != nil {
			logger.Warn("Dropping image that could not be re-hosted",
				zap.String("source_url", src),
				zap.Error(err))
			continue
		}
		m["url"] = hosted
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		delete(rec, "images")
		return
	}
	rec["images"] = kept
}
