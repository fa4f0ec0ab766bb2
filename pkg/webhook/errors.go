package webhook

import (
	"errors"
	"fmt"
)

// ValidationError indicates a structurally invalid webhook payload. It is
// permanent: the event is acked, logged, and dropped, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid webhook payload: field %q %s", e.Field, e.Reason)
}

// IsValidation checks if an error is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
