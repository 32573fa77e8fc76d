package criteria

import (
	"errors"
	"fmt"
)

// InvalidCriteriaError reports query input that cannot be normalized.
// It is always raised before any store I/O is attempted.
type InvalidCriteriaError struct {
	// Input is the offending value (the whole criteria or one part of it).
	Input any

	// Reason is a human-readable description.
	Reason string
}

func (e *InvalidCriteriaError) Error() string {
	return fmt.Sprintf("invalid criteria %#v: %s", e.Input, e.Reason)
}

// IsInvalidCriteria returns true if err is, or wraps, an InvalidCriteriaError.
func IsInvalidCriteria(err error) bool {
	var ice *InvalidCriteriaError
	return errors.As(err, &ice)
}

func invalid(input any, format string, args ...any) *InvalidCriteriaError {
	return &InvalidCriteriaError{Input: input, Reason: fmt.Sprintf(format, args...)}
}
