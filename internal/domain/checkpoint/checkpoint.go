// Package checkpoint tracks per-entity sync progress so that an interrupted
// run can resume, and keeps a history of finished runs.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
)

// ErrStorage wraps every persistence failure of a Repository.
var ErrStorage = fmt.Errorf("checkpoint: %w", integration.ErrStorage)

// Checkpoint is the committed progress of one entity. It is replaced as a
// whole after every fully committed batch.
type Checkpoint struct {
	Entity integration.EntityType `json:"entity"`
	// LastProcessedCursor resumes extraction; empty means start over.
	LastProcessedCursor string    `json:"last_processed_cursor"`
	LastRunAt           time.Time `json:"last_run_at"`
	RecordsProcessed    int64     `json:"records_processed"`
	// UpdatedSince and PageSize describe the extraction window the cursor
	// was read from. A cursor is only meaningful within that same window.
	UpdatedSince *time.Time `json:"updated_since,omitempty"`
	PageSize     int        `json:"page_size,omitempty"`
}

// WithWindow records the extraction window of the cursor.
func (c *Checkpoint) WithWindow(since *time.Time, pageSize int) *Checkpoint {
	c.UpdatedSince = nil
	if since != nil {
		t := since.UTC()
		c.UpdatedSince = &t
	}
	c.PageSize = pageSize
	return c
}

// ResumableWith reports whether the cursor can resume a run reading the
// window (since, pageSize). A checkpoint without a cursor never resumes.
func (c *Checkpoint) ResumableWith(since *time.Time, pageSize int) bool {
	if c == nil || c.LastProcessedCursor == "" {
		return false
	}
	if c.PageSize != pageSize {
		return false
	}
	switch {
	case c.UpdatedSince == nil && since == nil:
		return true
	case c.UpdatedSince == nil || since == nil:
		return false
	default:
		return c.UpdatedSince.Equal(*since)
	}
}

// Advance returns the checkpoint after committing a batch of n records read
// up to cursor.
func (c *Checkpoint) Advance(cursor string, n int, at time.Time) *Checkpoint {
	next := &Checkpoint{
		LastProcessedCursor: cursor,
		LastRunAt:           at.UTC(),
		RecordsProcessed:    int64(n),
	}
	if c != nil {
		next.Entity = c.Entity
		next.RecordsProcessed += c.RecordsProcessed
	}
	return next
}

// Repository persists checkpoints. Save must be atomic: after a crash either
// the old or the new checkpoint is visible, never a partial one.
type Repository interface {
	// Load returns nil, nil when the entity has no checkpoint.
	Load(ctx context.Context, entity integration.EntityType) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	// Delete resets an entity so its next run starts from the beginning.
	Delete(ctx context.Context, entity integration.EntityType) error
	List(ctx context.Context) ([]Checkpoint, error)
}
