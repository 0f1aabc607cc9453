// services/errors.go
package services

import (
	"errors"
	"fmt"
)

// Code classifies a ledger failure for callers.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNoEligiblePrizes  Code = "NO_ELIGIBLE_PRIZES"
	CodeStorage           Code = "STORAGE"
)

// LedgerError is the only error type the ledger services return. Storage
// errors are wrapped with CodeStorage so raw driver errors never reach
// callers unclassified.
type LedgerError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *LedgerError) Unwrap() error { return e.Cause }

// Is matches any LedgerError with the same code, so the sentinels below
// work with errors.Is.
func (e *LedgerError) Is(target error) bool {
	var t *LedgerError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

var (
	ErrNotFound          = &LedgerError{Code: CodeNotFound, Message: "not found"}
	ErrInsufficientFunds = &LedgerError{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrInvalidState      = &LedgerError{Code: CodeInvalidState, Message: "invalid state"}
	ErrInvalidArgument   = &LedgerError{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrNoEligiblePrizes  = &LedgerError{Code: CodeNoEligiblePrizes, Message: "no eligible prizes"}
	ErrStorage           = &LedgerError{Code: CodeStorage, Message: "storage failure"}
)

func newError(code Code, format string, args ...any) *LedgerError {
	return &LedgerError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func storageError(message string, cause error) *LedgerError {
	return &LedgerError{Code: CodeStorage, Message: message, Cause: cause}
}

// asLedgerError passes LedgerErrors through and wraps anything else as a
// storage failure.
func asLedgerError(message string, err error) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	return storageError(message, err)
}

// CodeOf returns the code of err, or "" when err is not a ledger error.
func CodeOf(err error) Code {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
