package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Limiter gates every attempt. *RateLimiter implements it.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Executor runs operations under a Policy. It is safe for concurrent use and
// is usually shared by every call towards one downstream system.
type Executor struct {
	policy  Policy
	limiter Limiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(attempt int, err error, delay time.Duration)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLimiter acquires l before every attempt, retries included.
func WithLimiter(l Limiter) Option {
	return func(e *Executor) { e.limiter = l }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithRetryHook is called before every backoff wait.
func WithRetryHook(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(e *Executor) { e.onRetry = fn }
}

// New creates an executor.
func New(policy Policy, opts ...Option) *Executor {
	e := &Executor{
		policy: policy,
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs op until it succeeds, fails permanently or exhausts the policy.
// Permanent errors are returned unchanged; exhaustion returns
// *RetriesExhaustedError. Cancelling ctx stops the wait and returns ctx.Err().
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Acquire(ctx); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !e.policy.retryable(err) {
			return err
		}
		if attempt >= e.policy.MaxRetries {
			return &RetriesExhaustedError{Attempts: attempt + 1, Last: err}
		}

		delay := e.policy.delay(attempt, err)
		e.logger.Debug("Retrying operation",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", e.policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if e.onRetry != nil {
			e.onRetry(attempt+1, err, delay)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Execute is Do for operations that return a value.
func Execute[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
