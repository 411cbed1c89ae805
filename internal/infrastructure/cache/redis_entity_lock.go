// Package cache provides the entity run locks used to serialize sync runs:
// a Redis lock shared between hosts and an in-process lock for tests and
// single-binary setups.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultLockPrefix = "sync:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another run is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extends the TTL only while the key still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisEntityLock implements integration.EntityLocker with SET NX PX.
// While a lock is held a background goroutine refreshes its TTL every third
// of the TTL, so a crashed holder frees the entity after at most one TTL.
type RedisEntityLock struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// RedisEntityLockOption is a functional option for RedisEntityLock
type RedisEntityLockOption func(*RedisEntityLock)

// WithLockLogger sets the logger
func WithLockLogger(logger *zap.Logger) RedisEntityLockOption {
	return func(l *RedisEntityLock) {
		l.logger = logger
	}
}

// WithKeyPrefix overrides the "sync:lock:" key prefix
func WithKeyPrefix(prefix string) RedisEntityLockOption {
	return func(l *RedisEntityLock) {
		if prefix != "" {
			l.keyPrefix = prefix
		}
	}
}

// NewRedisEntityLock connects to Redis and verifies the connection.
func NewRedisEntityLock(cfg config.RedisConfig, opts ...RedisEntityLockOption) (*RedisEntityLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisEntityLockWithClient(client, cfg.LockTTL, opts...), nil
}

// NewRedisEntityLockWithClient creates a lock with an existing Redis client
// This is useful for testing or when sharing a client across components
func NewRedisEntityLockWithClient(client *redis.Client, ttl time.Duration, opts ...RedisEntityLockOption) *RedisEntityLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	l := &RedisEntityLock{
		client:    client,
		keyPrefix: defaultLockPrefix,
		ttl:       ttl,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisEntityLock) key(entity integration.EntityType) string {
	return l.keyPrefix + entity.String()
}

// Acquire takes the entity lock or fails with ErrEntityLocked.
func (l *RedisEntityLock) Acquire(ctx context.Context, entity integration.EntityType) (func(), error) {
	release, _, err := l.AcquireLease(ctx, entity)
	return release, err
}

// AcquireLease is Acquire that also reports when the key expired or was
// taken over before release.
func (l *RedisEntityLock) AcquireLease(ctx context.Context, entity integration.EntityType) (func(), <-chan struct{}, error) {
	key := l.key(entity)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", integration.ErrEntityLocked, entity)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	lost := make(chan struct{})
	go l.refresh(key, token, stop, done, lost)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release entity lock",
					zap.String("key", key),
					zap.Error(err))
			}
		})
	}
	return release, lost, nil
}

func (l *RedisEntityLock) refresh(key, token string, stop <-chan struct{}, done, lost chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("Failed to refresh entity lock", zap.String("key", key), zap.Error(err))
				continue
			}
			if n == 0 {
				l.logger.Error("Entity lock lost before release", zap.String("key", key))
				close(lost)
				return
			}
		}
	}
}

// Close closes the Redis client
func (l *RedisEntityLock) Close() error {
	return l.client.Close()
}

var _ integration.LeaseLocker = (*RedisEntityLock)(nil)
