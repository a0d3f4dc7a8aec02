package rpc

import "fmt"

// ErrorCode categorizes RPC failures for clients.
type ErrorCode string

const (
	CodeNotLinked      ErrorCode = "NOT_LINKED"
	CodeNotPaired      ErrorCode = "NOT_PAIRED"
	CodeAgentTimeout   ErrorCode = "AGENT_TIMEOUT"
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	CodeUnavailable    ErrorCode = "UNAVAILABLE"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeNotFound       ErrorCode = "NOT_FOUND"
)

// Error is the structured error shape carried in response frames.
type Error struct {
	Code         ErrorCode      `json:"code"`
	Message      string         `json:"message"`
	Retryable    bool           `json:"retryable,omitempty"`
	RetryAfterMs int64          `json:"retryAfterMs,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates an error with just a code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequest is the conventional shape for malformed or disallowed
// requests.
func InvalidRequest(message string) *Error {
	return NewError(CodeInvalidRequest, message)
}

// Unauthorized is the conventional shape for missing tenant context,
// cross-tenant access and insufficient scope.
func Unauthorized(message string) *Error {
	return NewError(CodeUnauthorized, message)
}

// NotFound is the conventional shape for unknown resource ids.
func NotFound(message string) *Error {
	return NewError(CodeNotFound, message)
}

// Unavailable wraps internal failures surfaced to the caller.
func Unavailable(message string) *Error {
	return NewError(CodeUnavailable, message)
}
