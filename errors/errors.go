// Package errors provides error handling for factgraph.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// On top of that it defines the domain error taxonomy shared by every layer:
// access denied, authentication failed, invalid argument (with field-level
// validation errors), object not found and immutable violation.
//
// Usage:
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check the domain kind
//	if errors.Is(err, errors.ErrObjectNotFound) {
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
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
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
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// GetStack returns the reportable stack trace attached to an error, if any.
var GetStack = crdb.GetReportableStackTrace

// Domain sentinels. Wrap or Mark these to keep the kind visible to errors.Is.
var (
	// ErrAccessDenied indicates a missing permission or a failed ACL check
	ErrAccessDenied = New("access denied")

	// ErrAuthenticationFailed indicates the caller identity could not be established
	ErrAuthenticationFailed = New("authentication failed")

	// ErrInvalidArgument indicates a schema, validation or uniqueness violation
	ErrInvalidArgument = New("invalid argument")

	// ErrObjectNotFound indicates a referenced type, object or fact does not exist
	ErrObjectNotFound = New("object not found")

	// ErrImmutableViolation indicates an attempt to re-save an append-only entity
	ErrImmutableViolation = New("immutable violation")
)

// NewAccessDeniedError creates an access-denied error with a formatted message
func NewAccessDeniedError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrAccessDenied)
}

// NewAuthenticationFailedError creates an authentication error with a formatted message
func NewAuthenticationFailedError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrAuthenticationFailed)
}

// NewObjectNotFoundError creates a not-found error with a formatted message
func NewObjectNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrObjectNotFound)
}

// NewImmutableViolationError creates an immutable-violation error with a formatted message
func NewImmutableViolationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrImmutableViolation)
}

// IsAccessDenied checks if an error is or wraps ErrAccessDenied
func IsAccessDenied(err error) bool {
	return err != nil && Is(err, ErrAccessDenied)
}

// IsObjectNotFound checks if an error is or wraps ErrObjectNotFound
func IsObjectNotFound(err error) bool {
	return err != nil && Is(err, ErrObjectNotFound)
}

// IsInvalidArgument checks if an error is or wraps ErrInvalidArgument
func IsInvalidArgument(err error) bool {
	return err != nil && Is(err, ErrInvalidArgument)
}

// IsImmutableViolation checks if an error is or wraps ErrImmutableViolation
func IsImmutableViolation(err error) bool {
	return err != nil && Is(err, ErrImmutableViolation)
}

// IsAuthenticationFailed checks if an error is or wraps ErrAuthenticationFailed
func IsAuthenticationFailed(err error) bool {
	return err != nil && Is(err, ErrAuthenticationFailed)
}
