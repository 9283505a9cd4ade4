package validation

import (
	"fmt"

	"github.com/youtoss/ledger/internal/domain"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string        `json:"field"`
	Value   string        `json:"value"`
	Reason  domain.Reason `json:"reason"`
	Message string        `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, value string, reason domain.Reason, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Reason:  reason,
		Message: message,
	}
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection.
func (e *ValidationErrors) Add(field, value string, reason domain.Reason, message string) {
	*e = append(*e, NewValidationError(field, value, reason, message))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Err converts the collection into a domain Validation error for op, or nil
// when empty. The first error's reason becomes the error's reason.
func (e ValidationErrors) Err(op string) error {
	if !e.HasErrors() {
		return nil
	}
	return domain.Invalid(op, e[0].Reason, e)
}
