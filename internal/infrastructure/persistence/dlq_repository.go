package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormDLQRepository implements deadletter.Repository using GORM
type GormDLQRepository struct {
	db *gorm.DB
}

// NewGormDLQRepository creates a new GormDLQRepository
func NewGormDLQRepository(db *gorm.DB) *GormDLQRepository {
	return &GormDLQRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormDLQRepository) WithTx(tx *gorm.DB) *GormDLQRepository {
	return &GormDLQRepository{db: tx}
}

func dlqStorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", deadletter.ErrStorage, op, err)
}

// Enqueue stores a new entry
func (r *GormDLQRepository) Enqueue(ctx context.Context, e *deadletter.Entry) error {
	model, err := models.DLQEntryModelFromDomain(e)
	if err != nil {
		return dlqStorageError("encode entry", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return dlqStorageError("insert entry", err)
	}
	return nil
}

// Get finds an entry by its ID
func (r *GormDLQRepository) Get(ctx context.Context, id uuid.UUID) (*deadletter.Entry, error) {
	var model models.DLQEntryModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, deadletter.ErrNotFound
		}
		return nil, dlqStorageError("load entry", err)
	}
	return model.ToDomain(), nil
}

// List returns entries matching the filter, oldest failure first
func (r *GormDLQRepository) List(ctx context.Context, filter deadletter.Filter) ([]deadletter.Entry, error) {
	var rows []models.DLQEntryModel
	query := applyDLQFilter(r.db.WithContext(ctx), filter).Order("failed_at ASC").Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, dlqStorageError("list entries", err)
	}

	entries := make([]deadletter.Entry, 0, len(rows))
	for i := range rows {
		entries = append(entries, *rows[i].ToDomain())
	}
	return entries, nil
}

// MarkRetried increments the retry count of an entry and replaces its error
func (r *GormDLQRepository) MarkRetried(ctx context.Context, id uuid.UUID, cause error) (*deadletter.Entry, error) {
	updates := map[string]any{
		"retry_count": gorm.Expr("retry_count + ?", 1),
		"failed_at":   time.Now().UTC(),
	}
	if cause != nil {
		updates["error"] = cause.Error()
		updates["error_kind"] = deadletter.Classify(cause).String()
	}

	result := r.db.WithContext(ctx).
		Model(&models.DLQEntryModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, dlqStorageError("update entry", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, deadletter.ErrNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes an entry
func (r *GormDLQRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.DLQEntryModel{}, "id = ?", id)
	if result.Error != nil {
		return dlqStorageError("delete entry", result.Error)
	}
	if result.RowsAffected == 0 {
		return deadletter.ErrNotFound
	}
	return nil
}

// Purge deletes every entry matching the filter. Limit is ignored.
func (r *GormDLQRepository) Purge(ctx context.Context, filter deadletter.Filter) (int, error) {
	query := applyDLQFilter(r.db.WithContext(ctx), filter)
	if filter.Entity == "" && filter.Kind == "" && filter.Since == nil && filter.Before == nil {
		// GORM refuses a DELETE without conditions.
		query = query.Where("1 = 1")
	}
	result := query.Delete(&models.DLQEntryModel{})
	if result.Error != nil {
		return 0, dlqStorageError("purge entries", result.Error)
	}
	return int(result.RowsAffected), nil
}

// Count counts entries of entity, or all entries when entity is empty
func (r *GormDLQRepository) Count(ctx context.Context, entity integration.EntityType) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.DLQEntryModel{})
	if entity != "" {
		query = query.Where("entity = ?", entity.String())
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, dlqStorageError("count entries", err)
	}
	return count, nil
}

// Location names the backing table.
func (r *GormDLQRepository) Location() string {
	return fmt.Sprintf("%s table %s", r.db.Dialector.Name(), models.DLQEntryModel{}.TableName())
}

func applyDLQFilter(query *gorm.DB, filter deadletter.Filter) *gorm.DB {
	if filter.Entity != "" {
		query = query.Where("entity = ?", filter.Entity.String())
	}
	if filter.Kind != "" {
		query = query.Where("error_kind = ?", filter.Kind.String())
	}
	if filter.Since != nil {
		query = query.Where("failed_at >= ?", filter.Since.UTC())
	}
	if filter.Before != nil {
		query = query.Where("failed_at < ?", filter.Before.UTC())
	}
	return query
}

var _ deadletter.Repository = (*GormDLQRepository)(nil)
