// Package domainerrors defines the coded error type shared by all services.
// Services create or wrap errors with a Code; the HTTP layer translates codes
// to status responses. Stores return sentinel errors (pkg/sentinel) and
// services promote them to coded errors so every rejection names the exact
// precondition that failed.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the category of a domain error.
type Code string

const (
	// Validation: malformed or missing input, rejected before any side effect.
	CodeInvalidInput Code = "invalid_input"

	// Eligibility gate failures, one code per cause so callers can present
	// an actionable message.
	CodeMissingWallet Code = "missing_wallet"
	CodeNotRegistered Code = "not_registered"
	CodeNotVerified   Code = "not_verified"
	CodeAlreadyVoted  Code = "already_voted"
	CodePhaseClosed   Code = "phase_closed"

	// Conflicts: the request contradicts recorded state; nothing is mutated.
	CodeConflict             Code = "conflict"
	CodeDuplicateTransaction Code = "duplicate_transaction"
	CodeInvalidTransition    Code = "invalid_transition"
	CodeCandidateNotOnLedger Code = "candidate_not_on_ledger"

	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"

	// External dependency failure: the ledger call did not demonstrably
	// succeed and off-chain state is unchanged. Retryable by the caller.
	CodeLedgerUnavailable Code = "ledger_unavailable"

	// Inconsistency: the ledger confirms an event the off-chain store could
	// not apply. Operator-visible, never silently swallowed.
	CodeInconsistency Code = "inconsistency"

	CodeTimeout  Code = "timeout"
	CodeInternal Code = "internal"
)

// Error is a coded domain error. The message is safe to return to callers.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with a caller-facing message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			break
		}
	}
	return false
}

// CodeOf returns the outermost code carried by err, or CodeInternal when err
// is not a coded error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Retryable reports whether the failure is transient from the caller's point
// of view: retrying the same request later may succeed.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeLedgerUnavailable, CodeTimeout:
		return true
	}
	return false
}

// ToHTTPStatus maps a code to an HTTP status. Eligibility failures are 403s:
// the request was understood and authenticated but the voter does not satisfy
// a precondition.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeMissingWallet, CodeNotRegistered, CodeNotVerified,
		CodeAlreadyVoted, CodePhaseClosed, CodeForbidden:
		return http.StatusForbidden
	case CodeConflict, CodeDuplicateTransaction, CodeInvalidTransition,
		CodeCandidateNotOnLedger:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeLedgerUnavailable:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeInconsistency:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
