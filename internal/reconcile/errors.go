package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/handoff/internal/ir"
)

// ErrStopped is returned when an event is submitted after Run has returned.
var ErrStopped = errors.New("coordinator stopped")

// OperationError is the error surfaced for a non-confirmed operation, or
// reported by a Verifier/Applier to classify a failure.
//
// Errors that are not an *OperationError are treated as transient.
type OperationError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// OperationID identifies the affected operation (if known).
	OperationID string

	// Kind is the operation kind (if known).
	Kind ir.Kind

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes operation errors.
type ErrorCode string

const (
	// CodeTransientVerification indicates a network or 5xx failure; the
	// operation returns to pending and a later signal retries.
	CodeTransientVerification ErrorCode = "TRANSIENT_VERIFICATION"

	// CodeRejectedOperation indicates the backend answered verified=false.
	CodeRejectedOperation ErrorCode = "REJECTED_OPERATION"

	// CodeDuplicateOperation marks an alreadyProcessed result. It is
	// success and never surfaced as a terminal error.
	CodeDuplicateOperation ErrorCode = "DUPLICATE_OPERATION"

	// CodeOperationTimeout indicates no terminal state within the window.
	CodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"

	// CodeUserCancelled indicates an explicit or superseding cancel.
	CodeUserCancelled ErrorCode = "USER_CANCELLED"

	// CodeAttemptsExhausted indicates the verification budget ran out.
	CodeAttemptsExhausted ErrorCode = "ATTEMPTS_EXHAUSTED"

	// CodeConflict indicates a conflicting state reported by the backend
	// that is not an already-processed confirmation.
	CodeConflict ErrorCode = "CONFLICT"
)

// Error implements the error interface.
func (e *OperationError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.OperationID != "" {
		return fmt.Sprintf("%s: %s (operation=%s)", e.Code, msg, e.OperationID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying via a later signal is safe.
func (e *OperationError) Transient() bool {
	return e.Code == CodeTransientVerification
}

// NewTransientError wraps a retryable verification failure.
func NewTransientError(err error) *OperationError {
	return &OperationError{Code: CodeTransientVerification, Message: "verification unavailable", Err: err}
}

// NewRejectedError reports an operation the backend refused to confirm.
func NewRejectedError(message string) *OperationError {
	if message == "" {
		message = "operation not verified"
	}
	return &OperationError{Code: CodeRejectedOperation, Message: message}
}

// NewConflictError reports a 409 that is not an already-processed answer.
func NewConflictError(message string) *OperationError {
	return &OperationError{Code: CodeConflict, Message: message}
}

// NewTimeoutError reports an operation that reached its time bound.
func NewTimeoutError(timeout time.Duration) *OperationError {
	return &OperationError{
		Code:    CodeOperationTimeout,
		Message: fmt.Sprintf("no confirmation within %s", timeout),
	}
}

// NewCancelledError reports a cancelled operation.
func NewCancelledError(reason string) *OperationError {
	return &OperationError{Code: CodeUserCancelled, Message: reason}
}

// NewAttemptsExhaustedError reports a spent verification budget.
func NewAttemptsExhaustedError(limit int) *OperationError {
	return &OperationError{
		Code:    CodeAttemptsExhausted,
		Message: fmt.Sprintf("all %d verification attempts used", limit),
	}
}

// classify returns err as an *OperationError, treating unclassified errors
// as transient.
func classify(err error) *OperationError {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe
	}
	return NewTransientError(err)
}

// CodeOf returns the error code carried by err, or "" if none.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// IsTransient returns true if err is a transient verification error.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeTransientVerification
}

// IsRejected returns true if the backend rejected the operation.
func IsRejected(err error) bool {
	return CodeOf(err) == CodeRejectedOperation
}

// IsTimeout returns true if the operation expired.
func IsTimeout(err error) bool {
	return CodeOf(err) == CodeOperationTimeout
}

// IsCancelled returns true if the operation was cancelled.
func IsCancelled(err error) bool {
	return CodeOf(err) == CodeUserCancelled
}
