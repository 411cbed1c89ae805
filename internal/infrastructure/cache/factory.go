package cache

import (
	"fmt"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// LockerFactory picks the entity locker for the configured deployment
type LockerFactory struct {
	redisConfig   config.RedisConfig
	logger        *zap.Logger
	fallback      integration.EntityLocker
	allowFallback bool
}

// LockerFactoryOption is a functional option for configuring the factory
type LockerFactoryOption func(*LockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.logger = logger
	}
}

// WithFallback sets the locker used when Redis is disabled. When allowOnError
// is true it is also used when Redis is enabled but unreachable.
func WithFallback(locker integration.EntityLocker, allowOnError bool) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.fallback = locker
		f.allowFallback = allowOnError
	}
}

// NewLockerFactory creates a new factory
func NewLockerFactory(cfg config.RedisConfig, opts ...LockerFactoryOption) *LockerFactory {
	f := &LockerFactory{
		redisConfig: cfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create returns the Redis locker when Redis is enabled, otherwise the
// fallback, otherwise an in-process locker.
func (f *LockerFactory) Create() (integration.EntityLocker, error) {
	if !f.redisConfig.Enabled {
		if f.fallback != nil {
			return f.fallback, nil
		}
		f.logger.Debug("Redis disabled, using in-process entity lock")
		return NewInMemoryEntityLock(), nil
	}

	locker, err := NewRedisEntityLock(f.redisConfig, WithLockLogger(f.logger))
	if err == nil {
		f.logger.Info("Using Redis entity lock", zap.String("addr", f.redisConfig.Addr()))
		return locker, nil
	}

	if !f.allowFallback || f.fallback == nil {
		return nil, fmt.Errorf("redis entity lock unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to local entity lock. "+
		"Runs on other hosts are not serialized.",
		zap.Error(err),
	)
	return f.fallback, nil
}
