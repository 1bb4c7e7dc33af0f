package errors

import (
	"errors"
	"fmt"
)

// ExecError is the unified execution error type.
type ExecError struct {
	// Kind is the machine-readable error kind.
	Kind Kind `json:"kind"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// ExitStatus is the process exit status this error maps to.
	ExitStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *ExecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *ExecError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *ExecError) WithCause(cause error) *ExecError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *ExecError) WithDetail(key string, value any) *ExecError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new ExecError with automatic retryable and exit-status detection.
func New(kind Kind, message string) *ExecError {
	return &ExecError{
		Kind:       kind,
		Message:    message,
		Retryable:  IsRetryableKind(kind),
		ExitStatus: ExitStatusFor(kind),
	}
}

// Newf creates a new ExecError with a formatted message.
func Newf(kind Kind, format string, args ...any) *ExecError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates a new ExecError wrapping a cause.
func Wrap(kind Kind, message string, cause error) *ExecError {
	return New(kind, message).WithCause(cause)
}

// KindOf extracts the kind from any error. Non-ExecError values report
// the internal transport kind.
func KindOf(err error) Kind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindTransport
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ee *ExecError
	return errors.As(err, &ee) && ee.Kind == kind
}

// IsRetryable reports whether an error may be retried.
func IsRetryable(err error) bool {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// ExitStatus returns the process exit status for an error, or 0 for nil.
func ExitStatus(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.ExitStatus
	}
	return ExitFailure
}

// As is a convenience re-export so callers don't need both error packages.
func As(err error, target any) bool { return errors.As(err, target) }
