package services

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrPollNotFound     = errors.New("poll not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrUnauthorized     = errors.New("unauthorized")
)

// ValidationError reports a missing or malformed field in a request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StoreError wraps a failure of the underlying database. Its message is
// the driver's message, unchanged.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: errors.WithStack(err)}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsStore reports whether err is a *StoreError.
func IsStore(err error) bool {
	var s *StoreError
	return errors.As(err, &s)
}
