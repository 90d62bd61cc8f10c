// Package errors defines application error types shared across services
// and HTTP handlers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes used across the control plane.
const (
	CodeNotFound          = "not_found"
	CodeBadRequest        = "bad_request"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeConflict          = "conflict"
	CodeValidation        = "validation_error"
	CodeGone              = "gone"
	CodeBadGateway        = "bad_gateway"
	CodeInternal          = "internal_error"
	CodeTaskBlocked       = "task_blocked_cannot_transition"
	CodeGatewayIncompat   = "gateway_version_unsupported"
	CodeRegistryConflict  = "gateway_registry_conflict"
	CodeQueueFull         = "delivery_queue_full"
	CodeDependencyCycle   = "task_dependency_cycle"
	CodeNameCollision     = "agent_name_collision"
	CodeSessionCollision  = "agent_session_key_collision"
	CodeTokenRotateNeeded = "token_rotation_required"
)

// AppError is the error type surfaced by services. HTTPStatus drives the
// REST mapping; Details carries structured payloads such as the blocked
// dependency ids on task conflicts.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails attaches structured detail fields and returns the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func NotFound(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusNotFound}
}

func BadRequest(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeBadRequest, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusBadRequest}
}

func Unauthorized(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusUnauthorized}
}

func Forbidden(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeForbidden, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusForbidden}
}

func Conflict(code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusConflict}
}

func ValidationError(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeValidation, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusUnprocessableEntity}
}

func Gone(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeGone, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusGone}
}

func BadGateway(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeBadGateway, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusBadGateway}
}

func InternalError(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeInternal, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusInternalServerError}
}

// Wrap annotates err as an internal error unless it is already an AppError.
func Wrap(err error, message string) *AppError {
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	return &AppError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// TaskBlocked builds the structured 409 for blocked task transitions.
func TaskBlocked(blockedBy []string) *AppError {
	return &AppError{
		Code:       CodeTaskBlocked,
		Message:    "task has incomplete dependencies",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]interface{}{"blocked_by_task_ids": blockedBy},
	}
}

// As extracts an *AppError from err, if any.
func As(err error) (*AppError, bool) {
	var app *AppError
	ok := errors.As(err, &app)
	return app, ok
}

// IsNotFound reports whether err is a not-found AppError.
func IsNotFound(err error) bool {
	app, ok := As(err)
	return ok && app.HTTPStatus == http.StatusNotFound
}

// IsConflict reports whether err maps to HTTP 409.
func IsConflict(err error) bool {
	app, ok := As(err)
	return ok && app.HTTPStatus == http.StatusConflict
}

// GetHTTPStatus returns the HTTP status for err, defaulting to 500.
func GetHTTPStatus(err error) int {
	if app, ok := As(err); ok {
		return app.HTTPStatus
	}
	return http.StatusInternalServerError
}
