package integration

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Integration Errors
// ---------------------------------------------------------------------------

var (
	// Entity errors
	ErrUnknownEntity    = errors.New("integration: unknown entity type")
	ErrMissingStableKey = errors.New("integration: missing stable key")

	// Remote platform errors. Transient ones may be retried, permanent ones never.
	ErrTransientRemote = errors.New("integration: transient remote error")
	ErrRateLimited     = errors.New("integration: remote rate limited")
	ErrPermanentRemote = errors.New("integration: permanent remote error")
	ErrUnauthorized    = errors.New("integration: remote authentication failed")
	ErrInvalidResponse = errors.New("integration: invalid remote response")

	// Storage errors are fatal for a run: progress can no longer be trusted.
	ErrStorage = errors.New("integration: storage unavailable")

	// Lock errors
	ErrEntityLocked = errors.New("integration: entity run already in progress")
	ErrLockLost     = errors.New("integration: entity lock lost while held")
)

// RemoteError describes a failed call to a source or target platform.
// It unwraps to one of the remote sentinel errors so callers can classify it
// with errors.Is.
type RemoteError struct {
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Body       string
	Kind       error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Kind
}

// ClassifyStatus maps an HTTP status code onto a remote sentinel error.
// 429 is rate limiting, 5xx and 408 are transient, 401/403 are auth failures,
// every other 4xx is permanent. Success codes return nil.
func ClassifyStatus(status int) error {
	switch {
	case status < 400:
		return nil
	case status == 429:
		return ErrRateLimited
	case status == 408 || status >= 500:
		return ErrTransientRemote
	case status == 401 || status == 403:
		return ErrUnauthorized
	default:
		return ErrPermanentRemote
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientRemote) || errors.Is(err, ErrRateLimited)
}
