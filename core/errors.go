package core

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable machine-readable identifier carried by every
// user-visible error so callers can decide between automatic retry and
// prompting the user.
type ErrorCode string

const (
	// CodeStructural marks a malformed or invalid inbound snapshot/request.
	// The call fails immediately without mutating state.
	CodeStructural ErrorCode = "STRUCTURAL_ERROR"
	// CodeCollaborator marks a recoverable timeout or failure from an
	// external dependency. State is rolled back to the last checkpoint and
	// the identical request may be resubmitted.
	CodeCollaborator ErrorCode = "COLLABORATOR_ERROR"
	// CodeLoopExceeded marks an exhausted retry bound (debug loop or
	// clarification round-trips). The session moves to ERROR permanently.
	CodeLoopExceeded ErrorCode = "LOOP_EXCEEDED"
	// CodeSessionTerminated marks a message received for a session already
	// in a terminal stage. The snapshot is returned unchanged.
	CodeSessionTerminated ErrorCode = "SESSION_TERMINATED"
)

// Error is the typed error carried across the orchestrator boundary. It
// wraps an optional cause and records whether resubmitting the identical
// request can succeed.
type Error struct {
	Code        ErrorCode
	Message     string
	Details     map[string]string
	Err         error
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// NewStructuralError reports a malformed inbound snapshot or request.
func NewStructuralError(err error) *Error {
	return &Error{Code: CodeStructural, Message: "invalid request or session snapshot", Err: err}
}

// NewCollaboratorError reports a recoverable external-dependency failure.
func NewCollaboratorError(collaborator string, err error) *Error {
	return &Error{
		Code:        CodeCollaborator,
		Message:     fmt.Sprintf("%s collaborator failed", collaborator),
		Details:     map[string]string{"collaborator": collaborator},
		Err:         err,
		Recoverable: true,
	}
}

// NewExchangeAborted reports an exchange ended by cancellation or by the
// caller-configured exchange timeout. Resubmitting the identical request
// against the attached checkpoint can succeed.
func NewExchangeAborted(cause error) *Error {
	return &Error{
		Code:        CodeCollaborator,
		Message:     "exchange aborted before completion",
		Details:     map[string]string{"cause": cause.Error()},
		Err:         cause,
		Recoverable: true,
	}
}

// NewLoopExceeded reports an exhausted retry bound.
func NewLoopExceeded(loop string, count, max int) *Error {
	return &Error{
		Code:    CodeLoopExceeded,
		Message: fmt.Sprintf("%s loop bound exceeded (%d of %d)", loop, count, max),
		Details: map[string]string{"loop": loop, "count": fmt.Sprintf("%d", count), "max": fmt.Sprintf("%d", max)},
	}
}

// NewSessionTerminated reports input against a terminal session.
func NewSessionTerminated(stage Stage) *Error {
	return &Error{
		Code:    CodeSessionTerminated,
		Message: fmt.Sprintf("session already terminated in stage %s", stage),
		Details: map[string]string{"stage": string(stage)},
	}
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRecoverable reports whether resubmitting the identical request after err
// can succeed. Unknown errors are treated as non-recoverable.
func IsRecoverable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Recoverable
	}
	return false
}
