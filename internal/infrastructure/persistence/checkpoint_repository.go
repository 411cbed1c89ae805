package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCheckpointRepository implements checkpoint.Repository using GORM
type GormCheckpointRepository struct {
	db *gorm.DB
}

// NewGormCheckpointRepository creates a new GormCheckpointRepository
func NewGormCheckpointRepository(db *gorm.DB) *GormCheckpointRepository {
	return &GormCheckpointRepository{db: db}
}

func checkpointStorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", checkpoint.ErrStorage, op, err)
}

// Load returns the checkpoint of entity, or nil when none was saved yet
func (r *GormCheckpointRepository) Load(ctx context.Context, entity integration.EntityType) (*checkpoint.Checkpoint, error) {
	var model models.CheckpointModel
	err := r.db.WithContext(ctx).Where("entity = ?", entity.String()).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, checkpointStorageError("load checkpoint", err)
	}
	return model.ToDomain(), nil
}

// Save replaces the checkpoint of cp.Entity in a single upsert statement
func (r *GormCheckpointRepository) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if cp == nil || !cp.Entity.IsValid() {
		return checkpointStorageError("save checkpoint", integration.ErrUnknownEntity)
	}
	model := models.CheckpointModelFromDomain(cp)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"last_processed_cursor", "last_run_at", "records_processed",
				"updated_since", "page_size", "updated_at",
			}),
		}).Create(model).Error
	})
	if err != nil {
		return checkpointStorageError("save checkpoint", err)
	}
	return nil
}

// Delete removes the checkpoint of entity. Deleting a missing checkpoint is not an error.
func (r *GormCheckpointRepository) Delete(ctx context.Context, entity integration.EntityType) error {
	if err := r.db.WithContext(ctx).Delete(&models.CheckpointModel{}, "entity = ?", entity.String()).Error; err != nil {
		return checkpointStorageError("delete checkpoint", err)
	}
	return nil
}

// List returns every checkpoint ordered by entity name
func (r *GormCheckpointRepository) List(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	var rows []models.CheckpointModel
	if err := r.db.WithContext(ctx).Order("entity ASC").Find(&rows).Error; err != nil {
		return nil, checkpointStorageError("list checkpoints", err)
	}
	out := make([]checkpoint.Checkpoint, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out, nil
}

var _ checkpoint.Repository = (*GormCheckpointRepository)(nil)
