package bridge

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a bridge error returned to the plugin.
type ErrorCode string

const (
	CodeTrustRejected    ErrorCode = "BRIDGE_TRUST_REJECTED"
	CodeReplayBlocked    ErrorCode = "BRIDGE_REPLAY_BLOCKED"
	CodeInvalidTarget    ErrorCode = "BRIDGE_INVALID_TARGET"
	CodePermissionDenied ErrorCode = "BRIDGE_PERMISSION_DENIED"
	CodeUnavailable      ErrorCode = "BRIDGE_UNAVAILABLE"
	CodeInvokeFailed     ErrorCode = "BRIDGE_INVOKE_FAILED"
)

// ErrUnavailable is returned by gateways that cannot be reached. It maps to
// BRIDGE_UNAVAILABLE.
var ErrUnavailable = errors.New("bridge gateway unavailable")

// Error is a structured bridge error. It travels to the plugin inside a
// bridge-response and is never returned to host callers.
type Error struct {
	Code      ErrorCode
	Msg       string
	Details   any
	Retryable *bool
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Msg: message}
}

// WithDetails attaches details and returns the receiver.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithRetryable marks the error retryable or not and returns the receiver.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = &retryable
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
}

// Message renders the error in wire form: {code, message, details?, retryable?}.
func (e *Error) Message() map[string]any {
	m := map[string]any{
		"code":    string(e.Code),
		"message": e.Msg,
	}
	if e.Details != nil {
		m["details"] = e.Details
	}
	if e.Retryable != nil {
		m["retryable"] = *e.Retryable
	}
	return m
}

// NormalizeError converts a gateway failure into a bridge error. An error that
// already is a *Error keeps its code, message, details and retryable flag;
// ErrUnavailable becomes BRIDGE_UNAVAILABLE; anything else becomes
// BRIDGE_INVOKE_FAILED.
func NormalizeError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		out := *be
		if out.Code == "" {
			out.Code = CodeInvokeFailed
		}
		if out.Msg == "" {
			out.Msg = err.Error()
		}
		return &out
	}
	if errors.Is(err, ErrUnavailable) {
		return NewError(CodeUnavailable, err.Error()).WithRetryable(true)
	}
	return NewError(CodeInvokeFailed, err.Error())
}
