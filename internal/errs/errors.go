// Package errs defines the engine-wide error taxonomy from spec.md §7.
// Every error the engine returns to a caller carries one of these codes so
// callers can branch on taxonomy with errors.Is instead of string matching.
package errs

import (
	"errors"
	"fmt"
)

// Code classifies an error by how the caller should react to it.
type Code string

const (
	Validation           Code = "validation"
	Authorization        Code = "authorization"
	NotFound             Code = "not_found"
	Conflict             Code = "conflict"
	PreconditionFailed   Code = "precondition_failed"
	ResourceLocked       Code = "resource_locked"
	ResourceAlreadyLocked Code = "resource_already_locked"
	LockerError          Code = "locker_error"
	DatastoreError       Code = "datastore_error"
	FatalMergeError      Code = "fatal_merge_error"
	FatalReorderError    Code = "fatal_reorder_error"
	// ReorderSkipped is not a failure: reorder.Engine returns it for a no-op
	// move (the node is already at its requested position). The merge
	// orchestrator does not treat it specially: any error from a reorder,
	// including this code or a missing target node, fails its ReorderNodes
	// step and unwinds the merge.
	ReorderSkipped Code = "reorder_skipped"
	Internal       Code = "internal"
)

// sentinels lets callers write errors.Is(err, errs.ErrConflict) without
// reaching into the wrapped Error's Code field.
var sentinels = map[Code]error{
	Validation:            errors.New("validation error"),
	Authorization:         errors.New("authorization error"),
	NotFound:              errors.New("not found"),
	Conflict:              errors.New("conflict"),
	PreconditionFailed:    errors.New("precondition failed"),
	ResourceLocked:        errors.New("resource locked"),
	ResourceAlreadyLocked: errors.New("resource already locked"),
	LockerError:           errors.New("locker error"),
	DatastoreError:        errors.New("datastore error"),
	FatalMergeError:       errors.New("fatal merge error"),
	FatalReorderError:     errors.New("fatal reorder error"),
	ReorderSkipped:        errors.New("reorder skipped"),
	Internal:              errors.New("internal error"),
}

// EngineError is the concrete error type returned across package
// boundaries. It wraps a Code, a human-readable message, and an optional
// underlying cause for errors.Unwrap chains.
type EngineError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *EngineError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, sentinels[code]) match an EngineError by Code
// without needing to compare pointers.
func (e *EngineError) Is(target error) bool {
	s, ok := sentinels[e.Code]
	return ok && errors.Is(s, target)
}

// New builds an EngineError with the given code, formatted message, and no
// wrapped cause.
func New(code Code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an EngineError that wraps cause, preserving it for
// errors.Unwrap while attaching a taxonomy code and message.
func Wrap(code Code, cause error, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *EngineError,
// otherwise returns Internal.
func CodeOf(err error) Code {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return Internal
}

// sentinel accessors so callers can write errors.Is(err, errs.ErrConflict).
var (
	ErrValidation            = sentinels[Validation]
	ErrAuthorization         = sentinels[Authorization]
	ErrNotFound              = sentinels[NotFound]
	ErrConflict              = sentinels[Conflict]
	ErrPreconditionFailed    = sentinels[PreconditionFailed]
	ErrResourceLocked        = sentinels[ResourceLocked]
	ErrResourceAlreadyLocked = sentinels[ResourceAlreadyLocked]
	ErrLockerError           = sentinels[LockerError]
	ErrDatastoreError        = sentinels[DatastoreError]
	ErrFatalMergeError       = sentinels[FatalMergeError]
	ErrFatalReorderError     = sentinels[FatalReorderError]
	ErrReorderSkipped        = sentinels[ReorderSkipped]
	ErrInternal              = sentinels[Internal]
)
