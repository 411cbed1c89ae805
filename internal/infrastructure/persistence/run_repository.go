package persistence

import (
	"context"
	"fmt"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormRunRepository implements checkpoint.RunRepository using GORM
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// Save stores a finished run
func (r *GormRunRepository) Save(ctx context.Context, run *checkpoint.RunRecord) error {
	model, err := models.RunModelFromDomain(run)
	if err != nil {
		return checkpointStorageError("encode run", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return checkpointStorageError("insert run", err)
	}
	return nil
}

// List returns matching runs, newest first
func (r *GormRunRepository) List(ctx context.Context, filter checkpoint.RunFilter) ([]checkpoint.RunRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.RunModel{})
	if filter.Entity != "" {
		query = query.Where("entity = ?", filter.Entity.String())
	}
	if filter.Since != nil {
		query = query.Where("started_at >= ?", filter.Since.UTC())
	}
	query = query.Order("started_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []models.RunModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list runs: %w", checkpoint.ErrStorage, err)
	}
	out := make([]checkpoint.RunRecord, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out, nil
}

var _ checkpoint.RunRepository = (*GormRunRepository)(nil)
