// Package models contains the GORM persistence models of the sync state
// tables. They are kept apart from the domain types so that the domain layer
// stays free of ORM tags; each model converts to and from its domain type.
package models

import (
	"encoding/json"
	"time"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// logger for model conversion errors (silent failures are logged for debugging)
var modelLogger = zap.L().Named("sync.models")

// DLQEntryModel is the persistence model for deadletter.Entry.
type DLQEntryModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Entity       string    `gorm:"type:varchar(32);not null;index"`
	OriginalData string    `gorm:"column:original_data;not null"`
	Error        string    `gorm:"type:text;not null"`
	ErrorKind    string    `gorm:"type:varchar(64);not null"`
	FailedAt     time.Time `gorm:"not null;index"`
	RetryCount   int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DLQEntryModel) TableName() string {
	return "sync_dlq_entries"
}

// DLQEntryModelFromDomain converts a domain entry into its persistence model.
func DLQEntryModelFromDomain(e *deadletter.Entry) (*DLQEntryModel, error) {
	data, err := json.Marshal(e.OriginalData)
	if err != nil {
		return nil, err
	}
	return &DLQEntryModel{
		ID:           e.ID,
		Entity:       e.Entity.String(),
		OriginalData: string(data),
		Error:        e.Error,
		ErrorKind:    e.ErrorKind.String(),
		FailedAt:     e.FailedAt.UTC(),
		RetryCount:   e.RetryCount,
	}, nil
}

// ToDomain converts the persistence model back into a domain entry.
func (m *DLQEntryModel) ToDomain() *deadletter.Entry {
	e := &deadletter.Entry{
		ID:           m.ID,
		Entity:       integration.EntityType(m.Entity),
		OriginalData: record.Record{},
		Error:        m.Error,
		ErrorKind:    deadletter.ErrorKind(m.ErrorKind),
		FailedAt:     m.FailedAt.UTC(),
		RetryCount:   m.RetryCount,
	}
	if m.OriginalData != "" {
		if err := json.Unmarshal([]byte(m.OriginalData), &e.OriginalData); err != nil {
			modelLogger.Warn("failed to parse original_data JSON",
				zap.String("entry_id", m.ID.String()),
				zap.Error(err))
		}
	}
	return e
}

// CheckpointModel is the persistence model for checkpoint.Checkpoint. The
// entity name is the primary key, so there is at most one row per entity.
type CheckpointModel struct {
	Entity              string    `gorm:"type:varchar(32);primaryKey"`
	LastProcessedCursor string    `gorm:"type:text;not null;default:''"`
	LastRunAt           time.Time `gorm:"not null"`
	RecordsProcessed    int64     `gorm:"not null;default:0"`
	UpdatedSince        *time.Time
	PageSize            int       `gorm:"not null;default:0"`
	UpdatedAt           time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CheckpointModel) TableName() string {
	return "sync_checkpoints"
}

// CheckpointModelFromDomain converts a domain checkpoint.
func CheckpointModelFromDomain(cp *checkpoint.Checkpoint) *CheckpointModel {
	m := &CheckpointModel{
		Entity:              cp.Entity.String(),
		LastProcessedCursor: cp.LastProcessedCursor,
		LastRunAt:           cp.LastRunAt.UTC(),
		RecordsProcessed:    cp.RecordsProcessed,
		PageSize:            cp.PageSize,
	}
	if cp.UpdatedSince != nil {
		since := cp.UpdatedSince.UTC()
		m.UpdatedSince = &since
	}
	return m
}

// ToDomain converts the persistence model back into a domain checkpoint.
func (m *CheckpointModel) ToDomain() *checkpoint.Checkpoint {
	cp := &checkpoint.Checkpoint{
		Entity:              integration.EntityType(m.Entity),
		LastProcessedCursor: m.LastProcessedCursor,
		LastRunAt:           m.LastRunAt.UTC(),
		RecordsProcessed:    m.RecordsProcessed,
		PageSize:            m.PageSize,
	}
	if m.UpdatedSince != nil {
		since := m.UpdatedSince.UTC()
		cp.UpdatedSince = &since
	}
	return cp
}

// RunModel is the persistence model for checkpoint.RunRecord.
type RunModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Entity     string    `gorm:"type:varchar(32);not null;index"`
	StartedAt  time.Time `gorm:"not null;index"`
	FinishedAt time.Time `gorm:"not null"`
	State      string    `gorm:"type:varchar(20);not null"`
	DryRun     bool      `gorm:"not null;default:false"`
	StatsJSON  string    `gorm:"column:stats;not null"`
	Error      string    `gorm:"type:text;not null;default:''"`
}

// TableName returns the table name for GORM
func (RunModel) TableName() string {
	return "sync_runs"
}

// RunModelFromDomain converts a domain run record.
func RunModelFromDomain(r *checkpoint.RunRecord) (*RunModel, error) {
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return nil, err
	}
	return &RunModel{
		ID:         r.ID,
		Entity:     r.Entity.String(),
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
		State:      r.State,
		DryRun:     r.DryRun,
		StatsJSON:  string(stats),
		Error:      r.Error,
	}, nil
}

// ToDomain converts the persistence model back into a domain run record.
func (m *RunModel) ToDomain() *checkpoint.RunRecord {
	r := &checkpoint.RunRecord{
		ID:         m.ID,
		Entity:     integration.EntityType(m.Entity),
		StartedAt:  m.StartedAt.UTC(),
		FinishedAt: m.FinishedAt.UTC(),
		State:      m.State,
		DryRun:     m.DryRun,
		Error:      m.Error,
	}
	if m.StatsJSON != "" {
		if err := json.Unmarshal([]byte(m.StatsJSON), &r.Stats); err != nil {
			modelLogger.Warn("failed to parse stats JSON",
				zap.String("run_id", m.ID.String()),
				zap.Error(err))
		}
	}
	return r
}

// All lists every model, in creation order, for schema management.
func All() []any {
	return []any{&DLQEntryModel{}, &CheckpointModel{}, &RunModel{}}
}
