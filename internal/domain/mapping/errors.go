package mapping

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a mapping specification that cannot be used.
	// It is fatal and raised before any record is processed.
	ErrConfiguration = errors.New("mapping: invalid configuration")

	// ErrMissingRequiredField matches MappingErrors of kind KindMissingRequiredField.
	ErrMissingRequiredField = errors.New("mapping: missing required field")
	// ErrTransformFailed matches MappingErrors of kind KindTransformFailed.
	ErrTransformFailed = errors.New("mapping: transform failed")
)

// ErrorKind classifies per-record mapping failures.
type ErrorKind string

const (
	KindMissingRequiredField ErrorKind = "missing_required_field"
	KindTransformFailed      ErrorKind = "transform_failed"
)

// MappingError is a per-record mapping failure. Records failing with a
// MappingError are dead-lettered; the batch continues.
type MappingError struct {
	Kind  ErrorKind
	Field string
	Cause error
}

func (e *MappingError) Error() string {
	switch e.Kind {
	case KindMissingRequiredField:
		return fmt.Sprintf("mapping: missing required field %q", e.Field)
	default:
		return fmt.Sprintf("mapping: transform failed for %q: %v", e.Field, e.Cause)
	}
}

func (e *MappingError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match the kind sentinels.
func (e *MappingError) Is(target error) bool {
	switch target {
	case ErrMissingRequiredField:
		return e.Kind == KindMissingRequiredField
	case ErrTransformFailed:
		return e.Kind == KindTransformFailed
	}
	return false
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
