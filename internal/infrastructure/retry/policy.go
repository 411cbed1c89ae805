// Package retry runs remote operations with exponential backoff, jitter and a
// shared rate limit.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
)

// ErrRetriesExhausted matches every *RetriesExhaustedError.
var ErrRetriesExhausted = errors.New("retry: retries exhausted")

// RetriesExhaustedError is returned when a retryable error persisted through
// every allowed retry.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

// Retries is the number of retries made after the first attempt.
func (e *RetriesExhaustedError) Retries() int {
	return e.Attempts - 1
}

// Policy configures an Executor.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter spreads each delay by up to ±Jitter of its value (0..1).
	Jitter float64
	// Retryable decides whether an error is transient. Nil means DefaultRetryable.
	Retryable func(error) bool
}

// DefaultPolicy retries three times starting at half a second.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Jitter:     0.2,
		Retryable:  DefaultRetryable,
	}
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return DefaultRetryable(err)
}

// Backoff returns the delay before retry n (0-based) without jitter:
// min(BaseDelay * 2^n, MaxDelay).
func (p Policy) Backoff(n int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < n && (p.MaxDelay <= 0 || d < p.MaxDelay); i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// delay applies jitter and lets a server-provided Retry-After win when longer.
func (p Policy) delay(n int, err error) time.Duration {
	d := p.Backoff(n)
	if p.Jitter > 0 && d > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	var remote *integration.RemoteError
	if errors.As(err, &remote) && remote.RetryAfter > d {
		d = remote.RetryAfter
	}
	return d
}

// DefaultRetryable treats transient and rate-limited remote errors, network
// timeouts and per-attempt deadlines as retryable. Everything else is permanent.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, integration.ErrPermanentRemote) || errors.Is(err, integration.ErrUnauthorized) {
		return false
	}
	if integration.IsTransient(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
