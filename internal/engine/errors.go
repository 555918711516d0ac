// Package engine drives a parsed command batch to a terminal outcome: it
// runs every command against one transaction derived from the current
// snapshot, retries transparently when the replica moves underneath it, and
// optionally blocks until downstream consumers converge on the committed
// generation.
package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes terminal engine failures.
type ErrorCode string

const (
	// ErrCodeSymbol: a batch symbol was left unresolved or declared twice.
	ErrCodeSymbol ErrorCode = "SYMBOL"

	// ErrCodeConnection: the replica became unreachable.
	ErrCodeConnection ErrorCode = "CONNECTION"

	// ErrCodeTimeout: the deadline elapsed while waiting for the replica
	// to stabilize or for downstream consumers to converge.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeTxn: the commit failed for a non-retryable reason.
	ErrCodeTxn ErrorCode = "TXN"

	// ErrCodeCommand: a command handler reported a fatal error (lookup
	// failures, semantic misuse).
	ErrCodeCommand ErrorCode = "COMMAND"
)

// Error is a terminal engine failure. Conflicts never surface here; they
// are retried away or converted to a timeout.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewTimeoutError returns the canonical deadline failure.
func NewTimeoutError() *Error {
	return &Error{Code: ErrCodeTimeout, Message: "timeout expired"}
}

func newConnectionError(err error) *Error {
	return &Error{Code: ErrCodeConnection, Message: "database connection failed", Err: err}
}

func newCommandError(err error) *Error {
	return &Error{Code: ErrCodeCommand, Err: err}
}

func newSymbolError(err error) *Error {
	return &Error{Code: ErrCodeSymbol, Err: err}
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrCodeTimeout
}

// IsConnection reports whether err is a lost-replica failure.
func IsConnection(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrCodeConnection
}
