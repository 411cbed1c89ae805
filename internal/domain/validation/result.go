package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/erp/commerce-sync/internal/domain/integration"
)

// Rule names reported in Violation.Rule.
const (
	RuleRequired             = "required"
	RuleType                 = "type"
	RuleLength               = "length"
	RuleRange                = "range"
	RuleOneOf                = "one_of"
	RuleReference            = "reference"
	RuleFinancialConsistency = "financial_consistency"
	RuleUnknownEntity        = "entity"
)

// ErrInvalid matches every *Error.
var ErrInvalid = errors.New("validation: record failed validation")

// Violation is one failed rule.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationResult collects every violation found in a record.
// Valid is true exactly when Violations is empty.
type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

func newResult(violations []Violation) ValidationResult {
	return ValidationResult{Valid: len(violations) == 0, Violations: violations}
}

// HasRule reports whether any violation was raised by the named rule.
func (r ValidationResult) HasRule(rule string) bool {
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// Err returns nil for a valid result and an *Error otherwise.
func (r ValidationResult) Err(entity integration.EntityType) error {
	if r.Valid {
		return nil
	}
	return &Error{Entity: entity, Result: r}
}

// Error is a failed validation. The record goes to the dead letter queue.
type Error struct {
	Entity integration.EntityType
	Result ValidationResult
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Result.Violations))
	for i, v := range e.Result.Violations {
		parts[i] = "[" + v.Rule + "] " + v.String()
	}
	return fmt.Sprintf("validation: %s failed %d rule(s): %s", e.Entity, len(parts), strings.Join(parts, "; "))
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}
