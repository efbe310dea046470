// Package errors provides error handling for fastllm.
//
// This package re-exports github.com/cockroachdb/errors, providing stack
// traces, error wrapping, and safe formatting, plus the sentinel errors the
// sync engine dispatches on.
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
//	if errors.Is(err, errors.ErrUnknownModule) {
//	    // handle unregistered module
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
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
	Join      = crdb.Join
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for the prompt sync engine.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrUnknownModule indicates a module name absent from the live registry
	ErrUnknownModule = New("unknown module")

	// ErrUnknownSample indicates a sample input name absent from the local store
	ErrUnknownSample = New("unknown sample")

	// ErrProvider indicates an LLM provider transport, auth, or rate-limit failure
	ErrProvider = New("provider error")

	// ErrReconcileConflict indicates an identifier collision that cannot be unified
	ErrReconcileConflict = New("reconcile conflict")

	// ErrTransport indicates a sync channel connection-level failure
	ErrTransport = New("transport error")

	// ErrReload indicates the local module declarations failed to reload
	ErrReload = New("reload failed")

	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrInvalidInput indicates a malformed request or declaration
	ErrInvalidInput = New("invalid input")
)

// IsUnknownModuleError checks if an error is or wraps ErrUnknownModule
func IsUnknownModuleError(err error) bool {
	return err != nil && Is(err, ErrUnknownModule)
}

// IsUnknownSampleError checks if an error is or wraps ErrUnknownSample
func IsUnknownSampleError(err error) bool {
	return err != nil && Is(err, ErrUnknownSample)
}

// IsProviderError checks if an error is or wraps ErrProvider
func IsProviderError(err error) bool {
	return err != nil && Is(err, ErrProvider)
}

// IsReconcileConflictError checks if an error is or wraps ErrReconcileConflict
func IsReconcileConflictError(err error) bool {
	return err != nil && Is(err, ErrReconcileConflict)
}

// IsTransportError checks if an error is or wraps ErrTransport
func IsTransportError(err error) bool {
	return err != nil && Is(err, ErrTransport)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// WrapProvider wraps an error as a provider error with context
func WrapProvider(err error, context string) error {
	return Wrap(Wrap(ErrProvider, err.Error()), context)
}

// WrapTransport wraps an error as a transport error with context
func WrapTransport(err error, context string) error {
	return Wrap(Wrap(ErrTransport, err.Error()), context)
}

// WrapReload wraps an error as a reload error with context
func WrapReload(err error, context string) error {
	return Wrap(Wrap(ErrReload, err.Error()), context)
}

// NewUnknownModuleError creates an unknown-module error naming the module
func NewUnknownModuleError(name string) error {
	return Wrap(ErrUnknownModule, name)
}

// NewUnknownSampleError creates an unknown-sample error naming the sample
func NewUnknownSampleError(name string) error {
	return Wrap(ErrUnknownSample, name)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}
