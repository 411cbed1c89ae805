package checkpoint

import (
	"context"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/google/uuid"
)

// Counts is a frozen snapshot of a run's counters.
type Counts struct {
	Extracted   int64 `json:"extracted"`
	Transformed int64 `json:"transformed"`
	Validated   int64 `json:"validated"`
	Loaded      int64 `json:"loaded"`
	Created     int64 `json:"created"`
	Updated     int64 `json:"updated"`
	Failed      int64 `json:"failed"`
	DLQd        int64 `json:"dlqd"`
	Skipped     int64 `json:"skipped"`
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Extracted:   c.Extracted + o.Extracted,
		Transformed: c.Transformed + o.Transformed,
		Validated:   c.Validated + o.Validated,
		Loaded:      c.Loaded + o.Loaded,
		Created:     c.Created + o.Created,
		Updated:     c.Updated + o.Updated,
		Failed:      c.Failed + o.Failed,
		DLQd:        c.DLQd + o.DLQd,
		Skipped:     c.Skipped + o.Skipped,
	}
}

// RunRecord summarizes one finished entity run.
type RunRecord struct {
	ID         uuid.UUID              `json:"id"`
	Entity     integration.EntityType `json:"entity"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	State      string                 `json:"state"`
	DryRun     bool                   `json:"dry_run"`
	Stats      Counts                 `json:"stats"`
	Error      string                 `json:"error,omitempty"`
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunFilter selects run records. Zero values match everything.
type RunFilter struct {
	Entity integration.EntityType
	Since  *time.Time
	Limit  int
}

// Matches reports whether r passes the filter, ignoring Limit.
func (f RunFilter) Matches(r *RunRecord) bool {
	if f.Entity != "" && r.Entity != f.Entity {
		return false
	}
	if f.Since != nil && r.StartedAt.Before(*f.Since) {
		return false
	}
	return true
}

// RunRepository keeps the run history. List returns newest runs first.
type RunRepository interface {
	Save(ctx context.Context, run *RunRecord) error
	List(ctx context.Context, filter RunFilter) ([]RunRecord, error)
}
