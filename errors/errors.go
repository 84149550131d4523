// Package errors provides error handling for exportd.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	Mark         = crdb.Mark
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors forming the engine's error taxonomy.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrValidation indicates a malformed or out-of-range request
	// (bad schedule config, unsupported format, empty selection).
	// Returned synchronously to the caller; never retried automatically.
	ErrValidation = New("validation failed")

	// ErrPermission indicates the caller's role lacks the capability
	// for the requested action, or a cross-organization scope violation.
	ErrPermission = New("permission denied")

	// ErrNotFound indicates the referenced schedule, job, or document
	// does not exist within the caller's organization.
	ErrNotFound = New("not found")

	// ErrConflict indicates an illegal state-machine transition or a
	// lost optimistic-concurrency race. Callers may re-read and retry.
	ErrConflict = New("conflict")

	// ErrLimitExceeded indicates an organization/role quota or the
	// per-bulk item ceiling was exceeded.
	ErrLimitExceeded = New("limit exceeded")

	// ErrInternal indicates a persistence or unexpected failure.
	// Logged with full context, surfaced to the caller as opaque.
	ErrInternal = New("internal error")
)

// IsValidation checks if an error is or wraps ErrValidation
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsPermission checks if an error is or wraps ErrPermission
func IsPermission(err error) bool {
	return err != nil && Is(err, ErrPermission)
}

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflict checks if an error is or wraps ErrConflict
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsLimitExceeded checks if an error is or wraps ErrLimitExceeded
func IsLimitExceeded(err error) bool {
	return err != nil && Is(err, ErrLimitExceeded)
}

// IsInternal checks if an error is or wraps ErrInternal
func IsInternal(err error) bool {
	return err != nil && Is(err, ErrInternal)
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewPermissionError creates a permission error with a formatted message
func NewPermissionError(format string, args ...interface{}) error {
	return Wrap(ErrPermission, Newf(format, args...).Error())
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewConflictError creates a conflict error with a formatted message
func NewConflictError(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}

// NewLimitExceededError creates a limit-exceeded error with a formatted message
func NewLimitExceededError(format string, args ...interface{}) error {
	return Wrap(ErrLimitExceeded, Newf(format, args...).Error())
}

// WrapInternal wraps a low-level failure (driver, I/O) as an internal
// error so callers never branch on backend details. The original cause
// stays in the chain for logging.
func WrapInternal(err error, context string) error {
	return Mark(Wrap(err, context), ErrInternal)
}
