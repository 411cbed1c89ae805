package deadletter

import (
	"context"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/google/uuid"
)

// Filter selects entries. Zero values match everything.
type Filter struct {
	Entity integration.EntityType
	Kind   ErrorKind
	// Since keeps entries that failed at or after this instant.
	Since *time.Time
	// Before keeps entries that failed strictly before this instant.
	Before *time.Time
	// Limit caps the number of entries returned; 0 means no limit.
	Limit int
}

// Matches reports whether e passes the filter, ignoring Limit.
func (f Filter) Matches(e *Entry) bool {
	if f.Entity != "" && e.Entity != f.Entity {
		return false
	}
	if f.Kind != "" && e.ErrorKind != f.Kind {
		return false
	}
	if f.Since != nil && e.FailedAt.Before(*f.Since) {
		return false
	}
	if f.Before != nil && !e.FailedAt.Before(*f.Before) {
		return false
	}
	return true
}

// Repository persists dead letter entries. Implementations wrap every
// persistence failure in ErrStorage.
type Repository interface {
	// Enqueue stores a new entry.
	Enqueue(ctx context.Context, e *Entry) error

	// Get returns ErrNotFound for unknown IDs.
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)

	// List returns matching entries, oldest failure first.
	List(ctx context.Context, filter Filter) ([]Entry, error)

	// MarkRetried increments retry_count, refreshes failed_at and replaces
	// the error of an entry whose reprocessing failed again.
	MarkRetried(ctx context.Context, id uuid.UUID, cause error) (*Entry, error)

	// Delete removes an entry, typically after successful reprocessing.
	Delete(ctx context.Context, id uuid.UUID) error

	// Purge deletes every matching entry and returns how many were removed.
	Purge(ctx context.Context, filter Filter) (int, error)

	// Count counts entries of entity, or all entries when entity is empty.
	Count(ctx context.Context, entity integration.EntityType) (int64, error)

	// Location describes where entries are kept, for run summaries.
	Location() string
}
