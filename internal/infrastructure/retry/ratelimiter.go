package retry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimiterStats reports how a RateLimiter has been used.
type LimiterStats struct {
	Acquired    int64
	Rejected    int64
	PerMinute   float64
	AvgWaitTime time.Duration
}

// RateLimiter is a token bucket shared by every caller of one downstream
// system. Rates are expressed per minute.
//
// Thread Safety: Safe for concurrent use.
type RateLimiter struct {
	limiter   *rate.Limiter
	mu        sync.RWMutex
	perMinute float64

	acquired  atomic.Int64
	rejected  atomic.Int64
	waitTotal atomic.Int64 // nanoseconds
	waitCount atomic.Int64
}

// NewRateLimiter allows perMinute requests per minute with the given burst.
// A burst of 0 defaults to one request.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter:   rate.NewLimiter(perMinuteLimit(perMinute), burst),
		perMinute: perMinute,
	}
}

// Unlimited returns a limiter that never waits.
func Unlimited() *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
}

func perMinuteLimit(perMinute float64) rate.Limit {
	return rate.Limit(perMinute / 60)
}

// Acquire blocks until a token is available or ctx is done.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	l.acquired.Add(1)
	l.waitTotal.Add(int64(time.Since(start)))
	l.waitCount.Add(1)
	return nil
}

// TryAcquire takes a token without blocking.
func (l *RateLimiter) TryAcquire() bool {
	if l.limiter.Allow() {
		l.acquired.Add(1)
		return true
	}
	l.rejected.Add(1)
	return false
}

// SetRate changes the rate; it takes effect immediately.
func (l *RateLimiter) SetRate(perMinute float64) {
	if perMinute <= 0 {
		perMinute = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perMinute = perMinute
	l.limiter.SetLimit(perMinuteLimit(perMinute))
}

// CurrentRate returns the configured requests per minute.
func (l *RateLimiter) CurrentRate() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.perMinute
}

func (l *RateLimiter) Stats() LimiterStats {
	var avg time.Duration
	if n := l.waitCount.Load(); n > 0 {
		avg = time.Duration(l.waitTotal.Load() / n)
	}
	return LimiterStats{
		Acquired:    l.acquired.Load(),
		Rejected:    l.rejected.Load(),
		PerMinute:   l.CurrentRate(),
		AvgWaitTime: avg,
	}
}
