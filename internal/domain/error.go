package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Job lifecycle
	ErrJobNotFound        = errors.New("job not found")
	ErrJobAlreadyTerminal = errors.New("job already in a terminal state")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrPoolStopped        = errors.New("worker pool stopped")
)

// ErrorKind classifies failures that end up on a job or at the API boundary.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindStorage           ErrorKind = "storage"
	KindProcess           ErrorKind = "process"
	KindTimeout           ErrorKind = "timeout"
	KindNotFound          ErrorKind = "not_found"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindCancelled         ErrorKind = "cancelled"
	KindInternal          ErrorKind = "internal"
)

// Error carries a kind next to the underlying cause.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a kinded error. err may be nil.
func NewError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// StorageError wraps a durable store failure.
func StorageError(reason string, err error) *Error {
	return NewError(KindStorage, reason, err)
}

// KindOf reports the kind of err. Sentinels map to their natural kind,
// anything unrecognised is KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var ke interface{ ErrorKind() ErrorKind }
	if errors.As(err, &ke) {
		return ke.ErrorKind()
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrJobNotFound):
		return KindNotFound
	case errors.Is(err, ErrJobAlreadyTerminal), errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrInvalidArgument):
		return KindValidation
	}
	return KindInternal
}
