package integration

import (
	"context"
	"time"

	"github.com/erp/commerce-sync/internal/domain/record"
)

// ---------------------------------------------------------------------------
// Extraction
// ---------------------------------------------------------------------------

// Filters narrows an extraction request.
type Filters struct {
	// UpdatedSince restricts the page to records with updated_at >= UpdatedSince.
	UpdatedSince *time.Time
	// PageSize is the requested number of records per page.
	PageSize int
}

// Page is one page of raw source records.
type Page struct {
	Records []record.Record
	// NextCursor is nil at end of stream.
	NextCursor *string
}

// HasMore reports whether another page follows.
func (p *Page) HasMore() bool {
	return p != nil && p.NextCursor != nil
}

// Extractor reads paginated records of one entity type from the source platform.
// An empty cursor requests the first page.
type Extractor interface {
	FetchPage(ctx context.Context, entity EntityType, cursor string, filters Filters) (*Page, error)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// UpsertResult reports the target identifier of an upserted record.
type UpsertResult struct {
	ID      string
	Created bool
}

// Loader writes mapped records into the target platform.
// Upsert must be idempotent at the remote level, keyed by StableKey.
type Loader interface {
	Upsert(ctx context.Context, entity EntityType, r record.Record) (*UpsertResult, error)
}

// Pinger is implemented by connectors that can check reachability and
// credentials without reading or writing records.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// MediaUploader re-hosts a source image and returns its new public URL.
type MediaUploader interface {
	Upload(ctx context.Context, sourceURL string) (string, error)
}

// ---------------------------------------------------------------------------
// Locking
// ---------------------------------------------------------------------------

// EntityLocker serializes runs of the same entity. Acquire fails with
// ErrEntityLocked when another run holds the lock; the returned release
// function must be called exactly once.
type EntityLocker interface {
	Acquire(ctx context.Context, entity EntityType) (release func(), err error)
}

// LeaseLocker is an EntityLocker whose locks can lapse while held, such as a
// lock with a TTL. lost is closed once the lock no longer belongs to the
// caller; release must still be called.
type LeaseLocker interface {
	EntityLocker
	AcquireLease(ctx context.Context, entity EntityType) (release func(), lost <-chan struct{}, err error)
}
