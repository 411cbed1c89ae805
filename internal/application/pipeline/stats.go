package pipeline

import (
	"sync/atomic"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
)

// Stats are the counters of one entity run. Workers update them concurrently;
// once the run ends they are frozen and further updates are ignored.
type Stats struct {
	extracted   atomic.Int64
	transformed atomic.Int64
	validated   atomic.Int64
	loaded      atomic.Int64
	created     atomic.Int64
	updated     atomic.Int64
	failed      atomic.Int64
	dlqd        atomic.Int64
	skipped     atomic.Int64

	frozen atomic.Bool
}

func (s *Stats) add(c *atomic.Int64, n int64) {
	if s.frozen.Load() {
		return
	}
	c.Add(n)
}

// Snapshot returns the current counter values
func (s *Stats) Snapshot() checkpoint.Counts {
	return checkpoint.Counts{
		Extracted:   s.extracted.Load(),
		Transformed: s.transformed.Load(),
		Validated:   s.validated.Load(),
		Loaded:      s.loaded.Load(),
		Created:     s.created.Load(),
		Updated:     s.updated.Load(),
		Failed:      s.failed.Load(),
		DLQd:        s.dlqd.Load(),
		Skipped:     s.skipped.Load(),
	}
}

// freeze stops counting and returns the final values
func (s *Stats) freeze() checkpoint.Counts {
	s.frozen.Store(true)
	return s.Snapshot()
}
