package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/mapping"
	"github.com/erp/commerce-sync/internal/domain/validation"
	"github.com/erp/commerce-sync/internal/infrastructure/retry"
	"github.com/erp/commerce-sync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRetryUnavailable is returned by Retry when the service was built without
// a mapping catalog, validator and loader.
var ErrRetryUnavailable = errors.New("pipeline: dead letter reprocessing is not configured")

// RetryOutcome is the result of reprocessing one entry
type RetryOutcome struct {
	ID       uuid.UUID                 `json:"id"`
	Entity   integration.EntityType    `json:"entity"`
	Resolved bool                      `json:"resolved"`
	Upsert   *integration.UpsertResult `json:"upsert,omitempty"`
	// Entry is the updated entry when reprocessing failed again.
	Entry *deadletter.Entry `json:"entry,omitempty"`
	Error string            `json:"error,omitempty"`
}

// RetrySummary aggregates a bulk retry
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
}

// DLQStats counts entries per entity
type DLQStats struct {
	Total    int64                            `json:"total"`
	ByEntity map[integration.EntityType]int64 `json:"by_entity"`
	Location string                           `json:"location"`
}

// DLQService inspects and reprocesses dead-lettered records
type DLQService struct {
	repo      deadletter.Repository
	catalog   *mapping.Catalog
	validator *validation.Validator
	loader    integration.Loader
	exec      *retry.Executor
	media     integration.MediaUploader
	locker    integration.EntityLocker
	logger    *zap.Logger
	recorder  telemetry.PipelineRecorder
}

// DLQOption is a functional option for configuring DLQService
type DLQOption func(*DLQService)

// WithReprocessing enables Retry: entries are mapped with catalog, checked by
// validator and written through loader under exec.
func WithReprocessing(catalog *mapping.Catalog, validator *validation.Validator, loader integration.Loader, exec *retry.Executor) DLQOption {
	return func(s *DLQService) {
		s.catalog = catalog
		s.validator = validator
		s.loader = loader
		s.exec = exec
	}
}

// WithDLQMedia re-hosts product images of retried entries
func WithDLQMedia(media integration.MediaUploader) DLQOption {
	return func(s *DLQService) {
		s.media = media
	}
}

// WithDLQLocker makes Retry hold the entity lock of an entry while it is
// reprocessed, so it never overlaps a migration run or another retry of the
// same entity.
func WithDLQLocker(locker integration.EntityLocker) DLQOption {
	return func(s *DLQService) {
		s.locker = locker
	}
}

// WithDLQLogger sets a custom logger
func WithDLQLogger(logger *zap.Logger) DLQOption {
	return func(s *DLQService) {
		s.logger = logger
	}
}

// WithDLQRecorder reports backlog changes to a metrics recorder
func WithDLQRecorder(r telemetry.PipelineRecorder) DLQOption {
	return func(s *DLQService) {
		s.recorder = r
	}
}

// NewDLQService creates a dead letter service
func NewDLQService(repo deadletter.Repository, opts ...DLQOption) *DLQService {
	s := &DLQService{
		repo:     repo,
		logger:   zap.NewNop(),
		recorder: telemetry.NopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.exec == nil {
		s.exec = retry.New(retry.DefaultPolicy(), retry.WithLogger(s.logger))
	}
	return s
}

// Location describes where entries are stored
func (s *DLQService) Location() string {
	return s.repo.Location()
}

func (s *DLQService) List(ctx context.Context, filter deadletter.Filter) ([]deadletter.Entry, error) {
	return s.repo.List(ctx, filter)
}

func (s *DLQService) Get(ctx context.Context, id uuid.UUID) (*deadletter.Entry, error) {
	return s.repo.Get(ctx, id)
}

// Delete discards one entry without reprocessing it
func (s *DLQService) Delete(ctx context.Context, id uuid.UUID) error {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.refreshBacklog(ctx, e.Entity)
	return nil
}

// Purge deletes every matching entry
func (s *DLQService) Purge(ctx context.Context, filter deadletter.Filter) (int, error) {
	n, err := s.repo.Purge(ctx, filter)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Dead letter entries purged",
		zap.Int("count", n),
		zap.String("entity", filter.Entity.String()))
	if filter.Entity != "" {
		s.refreshBacklog(ctx, filter.Entity)
	} else {
		for _, e := range integration.DependencyOrder() {
			s.refreshBacklog(ctx, e)
		}
	}
	return n, nil
}

// Stats counts entries per entity
func (s *DLQService) Stats(ctx context.Context) (*DLQStats, error) {
	stats := &DLQStats{
		ByEntity: make(map[integration.EntityType]int64),
		Location: s.repo.Location(),
	}
	for _, e := range integration.DependencyOrder() {
		n, err := s.repo.Count(ctx, e)
		if err != nil {
			return nil, err
		}
		stats.ByEntity[e] = n
		stats.Total += n
	}
	return stats, nil
}

// Retry reprocesses one entry through mapping, validation and load. Success
// deletes the entry; a failure increments its retry count and is reported in
// the outcome. Only storage, configuration and authorization failures are
// returned as errors.
func (s *DLQService) Retry(ctx context.Context, id uuid.UUID) (*RetryOutcome, error) {
	if s.catalog == nil || s.validator == nil || s.loader == nil {
		return nil, ErrRetryUnavailable
	}
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	resolver, err := s.catalog.Resolver(entry.Entity)
	if err != nil {
		return nil, err
	}
	if s.locker != nil {
		var release func()
		ctx, release, err = lockEntity(ctx, s.locker, entry.Entity)
		if err != nil {
			return nil, err
		}
		defer release()

		// reload under the lock: a retry that held it may have resolved the entry
		if entry, err = s.repo.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	ctx, span := telemetry.StartSpan(ctx, "pipeline.dlq_retry",
		telemetry.SpanAttrEntity, entry.Entity.String(),
	)
	defer span.End()

	outcome := &RetryOutcome{ID: entry.ID, Entity: entry.Entity}
	result, cause := s.reprocess(ctx, resolver, entry)
	if cause != nil {
		if isFatal(cause) || ctx.Err() != nil {
			telemetry.RecordError(span, cause)
			return nil, cause
		}
		updated, err := s.repo.MarkRetried(ctx, entry.ID, cause)
		if err != nil {
			return nil, err
		}
		outcome.Entry = updated
		outcome.Error = cause.Error()
		s.logger.Warn("Dead letter retry failed",
			zap.String("dlq_id", entry.ID.String()),
			zap.String("entity", entry.Entity.String()),
			zap.Int("retry_count", updated.RetryCount),
			zap.Error(cause))
		return outcome, nil
	}

	if err := s.repo.Delete(ctx, entry.ID); err != nil {
		return nil, err
	}
	outcome.Resolved = true
	outcome.Upsert = result
	s.refreshBacklog(ctx, entry.Entity)
	s.logger.Info("Dead letter entry reprocessed",
		zap.String("dlq_id", entry.ID.String()),
		zap.String("entity", entry.Entity.String()),
		zap.String("target_id", result.ID),
		zap.Bool("created", result.Created))
	return outcome, nil
}

func (s *DLQService) reprocess(ctx context.Context, resolver *mapping.Resolver, entry *deadletter.Entry) (*integration.UpsertResult, error) {
	res, err := resolver.Resolve(entry.OriginalData)
	if err != nil {
		return nil, err
	}
	rec := res.Record
	if result := s.validator.Validate(rec, entry.Entity); !result.Valid {
		return nil, result.Err(entry.Entity)
	}
	if entry.Entity == integration.EntityProduct && s.media != nil {
		rehostImages(ctx, s.media, s.logger, rec)
	}
	return retry.Execute(ctx, s.exec, func(ctx context.Context) (*integration.UpsertResult, error) {
		return s.loader.Upsert(ctx, entry.Entity, rec)
	})
}

// RetryAll reprocesses every matching entry, oldest first
func (s *DLQService) RetryAll(ctx context.Context, filter deadletter.Filter) (*RetrySummary, error) {
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	summary := &RetrySummary{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outcome, err := s.Retry(ctx, e.ID)
		if errors.Is(err, deadletter.ErrNotFound) {
			// resolved by a concurrent retry since the listing
			continue
		}
		if err != nil {
			return summary, err
		}
		summary.Attempted++
		if outcome.Resolved {
			summary.Resolved++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

// csvHeader is the column layout of Export
var csvHeader = []string{"id", "entity", "error_kind", "error", "failed_at", "retry_count", "original_data"}

// Export writes matching entries to w as CSV and returns how many were written
func (s *DLQService) Export(ctx context.Context, w io.Writer, filter deadletter.Filter) (int, error) {
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		data, err := json.Marshal(e.OriginalData)
		if err != nil {
			return 0, fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
		row := []string{
			e.ID.String(),
			e.Entity.String(),
			e.ErrorKind.String(),
			e.Error,
			e.FailedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(e.RetryCount),
			string(data),
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(entries), nil
}

func (s *DLQService) refreshBacklog(ctx context.Context, entity integration.EntityType) {
	n, err := s.repo.Count(ctx, entity)
	if err != nil {
		s.logger.Debug("Failed to count dead letter backlog", zap.Error(err))
		return
	}
	s.recorder.SetDLQBacklog(ctx, entity.String(), n)
}
