// Package errcode defines the error taxonomy shared by every component.
// Components return *Error values; the API layer maps them to HTTP responses
// and the pipeline uses the code and Retryable flag to decide whether to
// recover locally, trigger a replan, or surface the failure.
package errcode

import (
	"errors"
	"fmt"
)

// Code identifies one failure class a client may receive.
type Code string

// The complete set of error codes. Clients must not receive any code outside
// this list.
const (
	PolicyDeny         Code = "POLICY_DENY"
	RateLimited        Code = "RATE_LIMITED"
	CircuitOpen        Code = "CIRCUIT_OPEN"
	ToolTimeout        Code = "TOOL_TIMEOUT"
	ToolBadRequest     Code = "TOOL_BAD_REQUEST"
	ToolNotFound       Code = "TOOL_NOT_FOUND"
	UpstreamUnavail    Code = "UPSTREAM_UNAVAILABLE"
	Internal           Code = "INTERNAL_ERROR"
	PlanInvalid        Code = "PLAN_INVALID"
	PlanTimeout        Code = "PLAN_TIMEOUT"
	ExecuteTimeout     Code = "EXECUTE_TIMEOUT"
	ComposeTimeout     Code = "COMPOSE_TIMEOUT"
	SQLBlocked         Code = "SQL_BLOCKED"
	TenantMismatch     Code = "TENANT_MISMATCH"
	AuthFailed         Code = "AUTH_FAILED"
	PermissionDenied   Code = "PERMISSION_DENIED"
	DataNotFound       Code = "DATA_NOT_FOUND"
	InvalidParams      Code = "INVALID_PARAMS"
	MaxRowsExceeded    Code = "MAX_ROWS_EXCEEDED"
	ConnectionError    Code = "CONNECTION_ERROR"
	ValidationFailed   Code = "VALIDATION_ERROR"
	ConfigurationError Code = "CONFIGURATION_ERROR"
	Conflict           Code = "CONFLICT"
	NotFound           Code = "NOT_FOUND"
	QueryNotFound      Code = "QUERY_NOT_FOUND"
	PlanningError      Code = "PLANNING_ERROR"
	Cancelled          Code = "CANCELLED"
)

// Error is the structured error carried across component boundaries.
type Error struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Err       error          `json:"-"`
}

// Error returns the formatted error message.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: retryableByDefault(code)}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an error wrapping a cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Retryable: retryableByDefault(code), Err: err}
}

// WithDetails attaches structured detail fields and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRetryable overrides the default retryable classification.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// CodeOf extracts the error code from err, walking the wrap chain.
// Unclassified errors report INTERNAL_ERROR.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// IsRetryable reports whether the error may be retried (with the same or a
// fallback tool). Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// retryableByDefault is the baseline classification per code. Timeouts and
// upstream failures may succeed on retry; policy, validation, and safety
// rejections never will.
func retryableByDefault(code Code) bool {
	switch code {
	case ToolTimeout, UpstreamUnavail, ConnectionError, RateLimited,
		ExecuteTimeout, PlanTimeout, ComposeTimeout:
		return true
	default:
		return false
	}
}
