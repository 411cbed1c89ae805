package pipeline

import (
	"errors"
	"fmt"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/integration"
)

var (
	ErrInvalidTransition = errors.New("pipeline: invalid state transition")
	ErrMissingDependency = errors.New("pipeline: missing dependency")
	// ErrNoLoader is returned for a non dry-run without a configured target.
	ErrNoLoader = errors.New("pipeline: no loader configured")
)

// RunError is a fatal failure of an entity run. LastCheckpoint is the last
// committed progress, where the next run resumes; nil means from the start.
type RunError struct {
	Entity         integration.EntityType
	State          State
	LastCheckpoint *checkpoint.Checkpoint
	Err            error
}

func (e *RunError) Error() string {
	resume := "the beginning"
	if e.LastCheckpoint != nil && e.LastCheckpoint.LastProcessedCursor != "" {
		resume = fmt.Sprintf("cursor %q", e.LastCheckpoint.LastProcessedCursor)
	}
	return fmt.Sprintf("pipeline: %s run failed while %s (resumes from %s): %v", e.Entity, e.State, resume, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// isFatal reports whether a per-record error must abort the whole run
// instead of dead-lettering the record.
func isFatal(err error) bool {
	return errors.Is(err, integration.ErrStorage) || errors.Is(err, integration.ErrUnauthorized)
}
