package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrContactNotFound = errors.New("contact not found")
	// ErrGenerationExhausted means no free contact_id was found within the attempt cap.
	ErrGenerationExhausted = errors.New("contact id generation exhausted")
)

// ValidationError names the request field that failed and, for enumerations,
// the accepted values.
type ValidationError struct {
	Field   string
	Message string
	Allowed []string
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("%s: %s (allowed: %s)", e.Field, e.Message, strings.Join(e.Allowed, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Invalid(field, message string, allowed ...string) *ValidationError {
	return &ValidationError{Field: field, Message: message, Allowed: allowed}
}

// DuplicateSubmissionError carries the public id of the submission that is
// being repeated, so the caller can redirect to tracking.
type DuplicateSubmissionError struct {
	ContactID string
}

func (e *DuplicateSubmissionError) Error() string {
	return "duplicate submission of " + e.ContactID
}

// PersistenceError wraps a store failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsDuplicate(err error) bool {
	var d *DuplicateSubmissionError
	return errors.As(err, &d)
}
