package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrUpstream   = errors.New("upstream error")
	ErrProcess    = errors.New("process error")

	// ErrInvalidTransition is returned when a state change is not legal from the current state.
	ErrInvalidTransition = fmt.Errorf("%w: invalid state transition", ErrValidation)
)

// UpstreamError describes a failed call to a remote library instance.
type UpstreamError struct {
	Op         string
	Instance   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s on instance %s: status %d: %v", e.Op, e.Instance, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s on instance %s: %v", e.Op, e.Instance, e.Err)
}

// Unwrap exposes both the wrapped cause and the ErrUpstream kind.
func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// NotFoundf builds an ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf builds an ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Validationf builds an ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
