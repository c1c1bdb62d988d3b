// Package errors provides custom error types for the GenieFlow application.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"

	// GenieFlow core error taxonomy, spec §7.
	ErrCodeUnknownFlow          = "UNKNOWN_FLOW"
	ErrCodeUnknownSession       = "UNKNOWN_SESSION"
	ErrCodeTransitionNotAllowed = "TRANSITION_NOT_ALLOWED"
	ErrCodeInvokerError         = "INVOKER_ERROR"
	ErrCodePersistenceError     = "PERSISTENCE_ERROR"
	ErrCodeSchemaMismatch       = "SCHEMA_MISMATCH"
	ErrCodeLockAcquireTimeout   = "LOCK_ACQUIRE_TIMEOUT"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`

	// Detail carries structured payload for errors the client needs to act
	// on beyond code+message, e.g. TransitionNotAllowed's
	// {current_state, possible_events, received_event}.
	Detail any `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized creates a new unauthorized error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a new forbidden error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:       ErrCodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ServiceUnavailable creates a new service unavailable error.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("service '%s' is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// RateLimitExceeded creates the error for a request rejected by the API's
// token-bucket throttle.
func RateLimitExceeded() *AppError {
	return &AppError{
		Code:       ErrCodeRateLimitExceeded,
		Message:    "too many requests, please try again later",
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// UnknownFlow creates the error for a flow_type_key not present in the
// FlowRegistry; surfaced as 404, per spec §7.
func UnknownFlow(flowTypeKey string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownFlow,
		Message:    fmt.Sprintf("flow type '%s' is not registered", flowTypeKey),
		HTTPStatus: http.StatusNotFound,
	}
}

// UnknownSession creates the error for a session_id with no model in the
// Store; surfaced as 404, per spec §7.
func UnknownSession(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownSession,
		Message:    fmt.Sprintf("no session with id '%s'", sessionID),
		HTTPStatus: http.StatusNotFound,
	}
}

// TransitionDetail is the structured payload spec §7 requires for a
// TransitionNotAllowed error: current state, the events the current state
// accepts, and the event that was rejected.
type TransitionDetail struct {
	SessionID      string   `json:"session_id"`
	CurrentStateID string   `json:"current_state_id"`
	CurrentState   string   `json:"current_state"`
	PossibleEvents []string `json:"possible_events"`
	ReceivedEvent  string   `json:"received_event"`
}

// TransitionNotAllowed creates the error for an event with no satisfied
// guard in the current state. Per spec §7 this is surfaced inside
// Response.error with HTTP 200, never as an exception to the client -
// callers should inspect Detail rather than propagate HTTPStatus blindly.
func TransitionNotAllowed(detail TransitionDetail) *AppError {
	return &AppError{
		Code:       ErrCodeTransitionNotAllowed,
		Message:    fmt.Sprintf("event '%s' is not allowed from state '%s'", detail.ReceivedEvent, detail.CurrentState),
		HTTPStatus: http.StatusOK,
		Detail:     detail,
	}
}

// InvokerErr creates the error for a failed Invoker.invoke call. Captured by
// error_handler: appended to task_error, the final event still sent with an
// empty-string result so the flow proceeds to its error-recovery branch.
func InvokerErr(invokerType string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInvokerError,
		Message:    fmt.Sprintf("invoker '%s' failed", invokerType),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// PersistenceErr creates the error for a failed Store I/O operation;
// bubbles up, lock released, 5xx to client.
func PersistenceErr(op string, err error) *AppError {
	return &AppError{
		Code:       ErrCodePersistenceError,
		Message:    fmt.Sprintf("store operation '%s' failed", op),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// SchemaMismatch creates the error for a persisted payload whose
// schema_version does not match the current code's schema_version for its
// class; bubbles up, 5xx, operator must migrate explicitly.
func SchemaMismatch(className string, persisted, current int) *AppError {
	return &AppError{
		Code: ErrCodeSchemaMismatch,
		Message: fmt.Sprintf(
			"schema mismatch for %s: persisted version %d, code version %d",
			className, persisted, current,
		),
		HTTPStatus: http.StatusInternalServerError,
	}
}

// LockAcquireTimeoutErr creates the error for a session lock that could not
// be acquired within the configured timeout; returned as a retriable 503.
func LockAcquireTimeoutErr(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeLockAcquireTimeout,
		Message:    fmt.Sprintf("timed out acquiring lock for session '%s'", sessionID),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsBadRequest checks if the error is a bad request error.
func IsBadRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeBadRequest || appErr.Code == ErrCodeValidationError
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

