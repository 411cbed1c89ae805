package pipeline

import (
	"context"
	"sync"

	"github.com/erp/commerce-sync/internal/domain/integration"
)

// lockEntity takes the entity lock. When the locker can lose a held lock,
// the returned context is cancelled with integration.ErrLockLost as its
// cause, so work under it stops at the next point that checks ctx.
func lockEntity(ctx context.Context, locker integration.EntityLocker, entity integration.EntityType) (context.Context, func(), error) {
	leases, ok := locker.(integration.LeaseLocker)
	if !ok {
		release, err := locker.Acquire(ctx, entity)
		if err != nil {
			return ctx, nil, err
		}
		return ctx, release, nil
	}

	release, lost, err := leases.AcquireLease(ctx, entity)
	if err != nil {
		return ctx, nil, err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-lost:
			cancel(integration.ErrLockLost)
		case <-stop:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			close(stop)
			cancel(nil)
			release()
		})
	}, nil
}
