package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient ErrorCategory = "client"
	CategoryServer ErrorCategory = "server"
)

// Error kinds returned to clients in the "error" field
const (
	CodeInvalidInput       = "invalid_input"
	CodeInvalidCredentials = "invalid_credentials"
	CodeUnauthenticated    = "unauthenticated"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeDuplicateIdentity  = "duplicate_identity"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Code       string        `json:"error"`
	Message    string        `json:"message"`
	Category   ErrorCategory `json:"-"`
	HTTPStatus int           `json:"-"`
	Cause      error         `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause sets the underlying cause of the error. The cause is logged, never
// written to the client.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// ErrorResponse is the JSON structure returned to clients
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Client error constructors

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message, CategoryClient, http.StatusBadRequest)
}

// InvalidCredentials is deliberately identical for unknown accounts and wrong
// passwords.
func InvalidCredentials() *AppError {
	return New(CodeInvalidCredentials, "invalid email or password", CategoryClient, http.StatusUnauthorized)
}

// Unauthenticated covers missing, malformed, expired, revoked and tampered
// tokens alike.
func Unauthenticated() *AppError {
	return New(CodeUnauthenticated, "authentication required", CategoryClient, http.StatusUnauthorized)
}

func Forbidden() *AppError {
	return New(CodeForbidden, "insufficient permissions", CategoryClient, http.StatusForbidden)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), CategoryClient, http.StatusNotFound)
}

func DuplicateIdentity() *AppError {
	return New(CodeDuplicateIdentity, "email already registered", CategoryClient, http.StatusConflict)
}

func RateLimited() *AppError {
	return New(CodeRateLimited, "too many attempts, try again later", CategoryClient, http.StatusTooManyRequests)
}

// Server error constructors

func Internal() *AppError {
	return New(CodeInternal, "an unexpected error occurred", CategoryServer, http.StatusInternalServerError)
}

// As converts any error into an AppError. Errors that are not already an
// AppError become Internal with the original error kept as the cause.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal().WithCause(err)
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, requestID string, err error) {
	appErr := As(err)

	resp := ErrorResponse{
		Error:     appErr.Code,
		Message:   appErr.Message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// IsClientError returns true if the error is a client error
func IsClientError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Category == CategoryClient
}

// IsServerError returns true if the error is a server error or not an
// AppError at all.
func IsServerError(err error) bool {
	return err != nil && !IsClientError(err)
}
