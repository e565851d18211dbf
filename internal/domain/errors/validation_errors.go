package errors

import (
	"errors"
	"fmt"
)

var (
	// General validation errors
	ErrInvalidInput  = errors.New("invalid input")
	ErrRequiredField = errors.New("required field is missing")

	// Specific request validation errors
	ErrEmptySKUList          = errors.New("sku list must not be empty")
	ErrMissingPlatformFields = errors.New("request carries no fields for the current platform")
	ErrMissingOfferToken     = errors.New("android subscription purchase requires at least one offer token")
	ErrMissingPurchaseToken  = errors.New("android purchase token is required")
	ErrMissingReceiptData    = errors.New("ios receipt data is required")
)

// ValidationError wraps a field validation error. Validation failures are
// surfaced synchronously, before any store call is made.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed for field '%s': %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidation reports whether err is a validation failure of any shape.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
