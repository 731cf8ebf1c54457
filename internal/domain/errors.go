package domain

import (
	"errors"
)

// Error taxonomy shared by the orchestrator, the migration engine and the
// storage adapters. Callers match with errors.Is.
var (
	ErrNotConfigured     = errors.New("storage location not configured")
	ErrAlreadyActive     = errors.New("download already active for this asset")
	ErrNotFound          = errors.New("not found")
	ErrAccessDenied      = errors.New("access to storage location denied")
	ErrInsufficientSpace = errors.New("insufficient space")
	ErrNetworkError      = errors.New("network error")
	ErrConflict          = errors.New("destination file exists and cannot be overwritten")
	ErrUnknown           = errors.New("unknown error")

	// Input and state errors
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidLocation        = errors.New("invalid storage location identifier")
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// Migration errors
	ErrMigrationInProgress = errors.New("a migration plan is already pending or executing")
	ErrNoPendingMigration  = errors.New("no migration plan is pending")
)

// SkippableError represents an error that can be logged and skipped.
// Processing can continue with the next item when this error occurs.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se)
}

// RetryableError marks a failure that is retried by a later trigger,
// such as a storage location being configured, rather than by the caller.
type RetryableError struct {
	Err error
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err}
}

// IsRetryable returns true if the error will be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// taxonomy lists the sentinels Classify matches, most specific first
var taxonomy = []error{
	ErrNotConfigured,
	ErrAlreadyActive,
	ErrMigrationInProgress,
	ErrNoPendingMigration,
	ErrInvalidLocation,
	ErrInvalidInput,
	ErrInvalidStateTransition,
	ErrNotFound,
	ErrAccessDenied,
	ErrInsufficientSpace,
	ErrNetworkError,
	ErrConflict,
}

// Classify maps an arbitrary error onto the taxonomy. Errors that match no
// sentinel classify as ErrUnknown.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range taxonomy {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return ErrUnknown
}
