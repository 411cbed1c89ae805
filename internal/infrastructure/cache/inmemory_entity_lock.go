package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/erp/commerce-sync/internal/domain/integration"
)

// InMemoryEntityLock implements integration.EntityLocker inside one process.
// It does not serialize runs started by other processes.
type InMemoryEntityLock struct {
	mu   sync.Mutex
	held map[integration.EntityType]bool
}

// NewInMemoryEntityLock creates an empty in-process lock table
func NewInMemoryEntityLock() *InMemoryEntityLock {
	return &InMemoryEntityLock{held: make(map[integration.EntityType]bool)}
}

// Acquire takes the entity lock or fails with ErrEntityLocked.
func (l *InMemoryEntityLock) Acquire(ctx context.Context, entity integration.EntityType) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[entity] {
		return nil, fmt.Errorf("%w: %s", integration.ErrEntityLocked, entity)
	}
	l.held[entity] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, entity)
			l.mu.Unlock()
		})
	}, nil
}

// IsHeld reports whether entity is currently locked
func (l *InMemoryEntityLock) IsHeld(entity integration.EntityType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[entity]
}

var _ integration.EntityLocker = (*InMemoryEntityLock)(nil)
