package model

import (
	"errors"
	"fmt"
)

// ValidationError covers bad transitions, restricted-field edits, duplicate
// business keys and date-order violations. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// PermissionError is a role or ownership denial.
type PermissionError struct {
	Actor   string
	Message string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for %s: %s", e.Actor, e.Message)
}

// NotFoundError indicates the requested contract does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError is returned on a stale optimistic-version write; the caller
// should re-read and retry.
type ConflictError struct {
	ID              string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("contract %s version conflict: expected %d, have %d",
		e.ID, e.ExpectedVersion, e.ActualVersion)
}

// LedgerErrorCode classifies ledger submission failures.
type LedgerErrorCode string

const (
	LedgerNetwork           LedgerErrorCode = "network"
	LedgerInsufficientFunds LedgerErrorCode = "insufficient_funds"
	LedgerUserRejected      LedgerErrorCode = "user_rejected"
	LedgerRevert            LedgerErrorCode = "revert"
	LedgerTimeout           LedgerErrorCode = "timeout"
)

// LedgerError is a classified ledger failure. In custodial mode it is logged
// and swallowed; in delegated mode it terminates the operation.
type LedgerError struct {
	Code LedgerErrorCode
	Op   string
	Err  error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger %s (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("ledger %s (%s)", e.Op, e.Code)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPermission reports whether err is a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// AsLedgerError extracts a LedgerError if err carries one.
func AsLedgerError(err error) (*LedgerError, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
