package pipeline

import (
	"context"
	"sync"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
)

// PlannedWrite is an upsert a dry run would have sent to the target
type PlannedWrite struct {
	Entity integration.EntityType `json:"entity"`
	Key    string                 `json:"key"`
	Create bool                   `json:"create"`
	Record record.Record          `json:"record"`
}

// DryRunLoader implements integration.Loader by recording writes instead of
// performing them. A key seen before is planned as an update.
type DryRunLoader struct {
	mu      sync.Mutex
	planned []PlannedWrite
	seen    map[string]struct{}
}

func NewDryRunLoader() *DryRunLoader {
	return &DryRunLoader{seen: make(map[string]struct{})}
}

func (l *DryRunLoader) Upsert(_ context.Context, entity integration.EntityType, r record.Record) (*integration.UpsertResult, error) {
	key, err := integration.StableKey(entity, r)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	seenKey := entity.String() + "/" + key
	_, exists := l.seen[seenKey]
	l.seen[seenKey] = struct{}{}
	l.planned = append(l.planned, PlannedWrite{
		Entity: entity,
		Key:    key,
		Create: !exists,
		Record: r.Clone(),
	})
	return &integration.UpsertResult{ID: "dry-run:" + key, Created: !exists}, nil
}

// Planned returns the recorded writes in the order they were planned
func (l *DryRunLoader) Planned() []PlannedWrite {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PlannedWrite, len(l.planned))
	copy(out, l.planned)
	return out
}

var _ integration.Loader = (*DryRunLoader)(nil)
