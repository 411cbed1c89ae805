package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// dirLock serializes writers of one directory across goroutines and processes.
// A flock.Flock treats repeated Lock calls on the same value as already held,
// so the mutex provides the in-process half.
type dirLock struct {
	mu    sync.Mutex
	flock *flock.Flock
}

func newDirLock(path string) *dirLock {
	return &dirLock{flock: flock.New(path)}
}

func (l *dirLock) with(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), dirPerm); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	locked, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", l.flock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("unable to acquire lock %s", l.flock.Path())
	}
	defer func() { _ = l.flock.Unlock() }()

	return fn()
}

// FileLocker implements integration.EntityLocker with one lock file per
// entity. The lock is released by the kernel if the process dies.
type FileLocker struct {
	dir string
}

// NewFileLocker creates a locker keeping its lock files under <dir>/locks.
func NewFileLocker(dir string) (*FileLocker, error) {
	locks := filepath.Join(dir, "locks")
	if err := os.MkdirAll(locks, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}
	return &FileLocker{dir: locks}, nil
}

// Acquire takes the entity lock without waiting. ErrEntityLocked is returned
// when another run, in this or another process, holds it.
func (l *FileLocker) Acquire(ctx context.Context, entity integration.EntityType) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(l.dir, entity.String()+".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", entity, err)
	}
	if !locked {
		_ = fl.Close()
		return nil, fmt.Errorf("%w: %s", integration.ErrEntityLocked, entity)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = fl.Unlock()
			_ = fl.Close()
		})
	}, nil
}

var _ integration.EntityLocker = (*FileLocker)(nil)
