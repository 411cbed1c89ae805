package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper captures backoff waits instead of sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func flaky(failures int, err error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= failures {
			return err
		}
		return nil
	}, &calls
}

func testPolicy(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
}

func TestExecutor_SucceedsAfterTransientFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	exec := New(testPolicy(3), WithSleeper(sleeper.sleep))

	op, calls := flaky(2, integration.ErrTransientRemote)
	err := exec.Do(context.Background(), op)

	require.NoError(t, err)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.delays)
}

func TestExecutor_ExhaustsRetries(t *testing.T) {
	exec := New(testPolicy(1), WithSleeper((&recordingSleeper{}).sleep))

	op, calls := flaky(2, integration.ErrTransientRemote)
	err := exec.Do(context.Background(), op)

	require.Error(t, err)
	assert.Equal(t, 2, *calls)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, integration.ErrTransientRemote)

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, 1, exhausted.Retries())
}

func TestExecutor_PermanentErrorIsNotRetried(t *testing.T) {
	exec := New(testPolicy(5), WithSleeper((&recordingSleeper{}).sleep))
	permanent := &integration.RemoteError{Op: "upsert", StatusCode: 422, Kind: integration.ErrPermanentRemote}

	op, calls := flaky(10, permanent)
	err := exec.Do(context.Background(), op)

	assert.Equal(t, 1, *calls)
	assert.Same(t, permanent, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
}

func TestExecutor_HonorsRetryAfter(t *testing.T) {
	sleeper := &recordingSleeper{}
	exec := New(testPolicy(2), WithSleeper(sleeper.sleep))
	limited := &integration.RemoteError{Op: "fetch", StatusCode: 429, RetryAfter: 5 * time.Second, Kind: integration.ErrRateLimited}

	op, _ := flaky(1, limited)
	require.NoError(t, exec.Do(context.Background(), op))
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeper.delays)
}

func TestExecutor_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := New(testPolicy(5), WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	op, calls := flaky(10, integration.ErrTransientRemote)
	err := exec.Do(ctx, op)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, *calls)
}

func TestExecutor_RealSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	exec := New(Policy{MaxRetries: 3, BaseDelay: time.Minute, MaxDelay: time.Minute})

	start := time.Now()
	err := exec.Do(ctx, func(context.Context) error { return integration.ErrTransientRemote })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecutor_LimiterGatesEveryAttempt(t *testing.T) {
	limiter := &countingLimiter{}
	exec := New(testPolicy(3), WithLimiter(limiter), WithSleeper((&recordingSleeper{}).sleep))

	op, _ := flaky(2, integration.ErrRateLimited)
	require.NoError(t, exec.Do(context.Background(), op))
	assert.Equal(t, 3, limiter.n)
}

func TestExecutor_RetryHook(t *testing.T) {
	var attempts []int
	exec := New(testPolicy(3),
		WithSleeper((&recordingSleeper{}).sleep),
		WithRetryHook(func(attempt int, _ error, _ time.Duration) { attempts = append(attempts, attempt) }),
	)
	op, _ := flaky(2, integration.ErrTransientRemote)
	require.NoError(t, exec.Do(context.Background(), op))
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestExecute(t *testing.T) {
	exec := New(testPolicy(2), WithSleeper((&recordingSleeper{}).sleep))
	calls := 0

	got, err := Execute(context.Background(), exec, func(context.Context) (*integration.UpsertResult, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("upsert: %w", integration.ErrTransientRemote)
		}
		return &integration.UpsertResult{ID: "prod_1", Created: true}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "prod_1", got.ID)
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
	assert.Equal(t, 10*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(200))
}

func TestPolicy_Jitter(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.25}
	for i := 0; i < 100; i++ {
		d := p.delay(0, errors.New("x"))
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", integration.ErrTransientRemote, true},
		{"rate limited", &integration.RemoteError{Kind: integration.ErrRateLimited}, true},
		{"permanent", integration.ErrPermanentRemote, false},
		{"unauthorized", integration.ErrUnauthorized, false},
		{"network timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"attempt deadline", context.DeadlineExceeded, true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryable(tt.err))
		})
	}
}

type countingLimiter struct{ n int }

func (l *countingLimiter) Acquire(context.Context) error {
	l.n++
	return nil
}
