// Package types holds the error taxonomy shared by the three calculation
// engines and the HTTP layer.
package types

import (
	"errors"
	"fmt"
)

// ValidationError marks structurally invalid input: out-of-domain
// probabilities, negative amounts, empty schedules. It is raised before any
// computation starts and maps to a 400 at the HTTP layer.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for a named input field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ComputationError marks inputs that are individually valid but mutually
// inconsistent, detected mid-calculation (for example a correlation matrix
// that produces a negative diversification benefit). Maps to a 422.
type ComputationError struct {
	Operation string
	Message   string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computation: %s: %s", e.Operation, e.Message)
}

// NewComputationError builds a ComputationError for a named operation.
func NewComputationError(operation, format string, args ...any) error {
	return &ComputationError{Operation: operation, Message: fmt.Sprintf(format, args...)}
}

// IsComputation reports whether err is (or wraps) a ComputationError.
func IsComputation(err error) bool {
	var ce *ComputationError
	return errors.As(err, &ce)
}
