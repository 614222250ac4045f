// -----------------------------------------------------------------------
// Errors - Closed set of scheduling error kinds
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable machine-readable code carried by scheduling errors.
// Callers branch on the kind, never on message text.
type ErrorKind string

const (
	ErrKindDuplicateClient            ErrorKind = "duplicate_client"
	ErrKindClientNotFound             ErrorKind = "client_not_found"
	ErrKindRequestedClientUnavailable ErrorKind = "requested_client_unavailable"
	ErrKindInsufficientClients        ErrorKind = "insufficient_clients"
	ErrKindCapacityExceeded           ErrorKind = "capacity_exceeded"
	ErrKindManagerBusy                ErrorKind = "manager_busy"
	ErrKindManagerUnreachable         ErrorKind = "manager_unreachable"
	ErrKindJobNotFound                ErrorKind = "job_not_found"
	ErrKindIllegalState               ErrorKind = "illegal_state"
	ErrKindValidationFailed           ErrorKind = "validation_failed"
	ErrKindUnknownJobClass            ErrorKind = "unknown_job_class"
	ErrKindUnknownAlgorithm           ErrorKind = "unknown_algorithm"
	ErrKindShutdownInProgress         ErrorKind = "shutdown_in_progress"
	ErrKindStorageFailure             ErrorKind = "storage_failure"
)

// Error is a scheduling error with a stable kind code.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an error with the given kind and formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying cause.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the error kind, or empty string for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
