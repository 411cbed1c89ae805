// Package deadletter holds records that failed processing, together with the
// cause, until they are retried or purged.
package deadletter

import (
	"errors"
	"fmt"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/mapping"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/erp/commerce-sync/internal/domain/validation"
	"github.com/google/uuid"
)

var (
	// ErrStorage wraps every persistence failure of a Repository.
	ErrStorage = fmt.Errorf("deadletter: %w", integration.ErrStorage)
	// ErrNotFound is returned for unknown entry IDs.
	ErrNotFound = errors.New("deadletter: entry not found")
)

// ErrorKind classifies why a record was dead-lettered.
type ErrorKind string

const (
	KindMissingRequiredField ErrorKind = "missing_required_field"
	KindTransformFailed      ErrorKind = "transform_failed"
	KindValidation           ErrorKind = "validation"
	KindPermanentRemote      ErrorKind = "permanent_remote"
	KindRetriesExhausted     ErrorKind = "retries_exhausted"
	KindTransientRemote      ErrorKind = "transient_remote"
	KindUnknown              ErrorKind = "unknown"
)

func (k ErrorKind) String() string {
	return string(k)
}

// Kinds lists every ErrorKind
func Kinds() []ErrorKind {
	return []ErrorKind{
		KindMissingRequiredField, KindTransformFailed, KindValidation,
		KindPermanentRemote, KindRetriesExhausted, KindTransientRemote, KindUnknown,
	}
}

// ParseErrorKind parses a kind name
func ParseErrorKind(s string) (ErrorKind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("deadletter: unknown error kind %q", s)
}

// retryReporter is implemented by errors that know how many retries were made
// before giving up.
type retryReporter interface {
	Retries() int
}

// Classify maps a per-record failure onto an ErrorKind.
func Classify(err error) ErrorKind {
	var rr retryReporter
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, mapping.ErrMissingRequiredField):
		return KindMissingRequiredField
	case errors.Is(err, mapping.ErrTransformFailed):
		return KindTransformFailed
	case errors.Is(err, validation.ErrInvalid):
		return KindValidation
	case errors.As(err, &rr):
		return KindRetriesExhausted
	case errors.Is(err, integration.ErrPermanentRemote), errors.Is(err, integration.ErrUnauthorized),
		errors.Is(err, integration.ErrInvalidResponse), errors.Is(err, integration.ErrMissingStableKey):
		return KindPermanentRemote
	case integration.IsTransient(err):
		return KindTransientRemote
	default:
		return KindUnknown
	}
}

// Entry is one dead-lettered record.
type Entry struct {
	ID           uuid.UUID              `json:"id"`
	Entity       integration.EntityType `json:"entity"`
	OriginalData record.Record          `json:"original_data"`
	Error        string                 `json:"error"`
	ErrorKind    ErrorKind              `json:"error_kind"`
	FailedAt     time.Time              `json:"failed_at"`
	RetryCount   int                    `json:"retry_count"`
}

// NewEntry captures a failed source record. RetryCount starts at the number of
// retries the failing operation already made, if it reports one.
func NewEntry(entity integration.EntityType, data record.Record, cause error) *Entry {
	e := &Entry{
		ID:           uuid.New(),
		Entity:       entity,
		OriginalData: data.Clone(),
		ErrorKind:    Classify(cause),
		FailedAt:     time.Now().UTC(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	var rr retryReporter
	if errors.As(cause, &rr) {
		e.RetryCount = rr.Retries()
	}
	return e
}

// MarkRetried records another failed reprocessing attempt.
func (e *Entry) MarkRetried(cause error, at time.Time) {
	e.RetryCount++
	e.FailedAt = at.UTC()
	if cause != nil {
		e.Error = cause.Error()
		e.ErrorKind = Classify(cause)
	}
}
