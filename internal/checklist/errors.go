package checklist

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReviewable is returned when approving or rejecting a slot the
	// office owns; those documents are self-attested.
	ErrNotReviewable = errors.New("document is not subject to review")
	// ErrNotFiled is returned when deciding a slot that has no file.
	ErrNotFiled = errors.New("document has no uploaded file")
)

// ValidationError is raised before any write and leaves state untouched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
