package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// APIError is the error type handlers hand to gin. Internal is logged but
// never rendered.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
	Internal  error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Internal
}

func New(status int, code, message string, err error) *APIError {
	return &APIError{
		Status:   status,
		Code:     code,
		Message:  message,
		Internal: err,
	}
}

func BadRequest(message string, err error) *APIError {
	return New(http.StatusBadRequest, "bad_request", message, err)
}

func Unauthorized(message string, err error) *APIError {
	return New(http.StatusUnauthorized, "unauthorized", message, err)
}

// Permission is returned when the authorizer denies the caller.
func Permission(message string, err error) *APIError {
	return New(http.StatusForbidden, "permission_denied", message, err)
}

func NotFound(message string, err error) *APIError {
	return New(http.StatusNotFound, "not_found", message, err)
}

// ConflictRetry tells the client to rebase and resubmit.
func ConflictRetry(message string, err error) *APIError {
	e := New(http.StatusConflict, "conflict", message, err)
	e.Retryable = true
	return e
}

func Conflict(message string, err error) *APIError {
	return New(http.StatusConflict, "conflict", message, err)
}

func Archived(message string, err error) *APIError {
	return New(http.StatusLocked, "archived", message, err)
}

func Validation(message string, err error) *APIError {
	return New(http.StatusUnprocessableEntity, "validation_failed", message, err)
}

func UnprocessableEntity(message string, err error) *APIError {
	return Validation(message, err)
}

// Store reports a transient storage failure. Clients may retry.
func Store(message string, err error) *APIError {
	e := New(http.StatusServiceUnavailable, "store_unavailable", message, err)
	e.Retryable = true
	return e
}

func Internal(err error) *APIError {
	return New(http.StatusInternalServerError, "internal", "Internal server error", err)
}

// NewValidationError turns binding errors into a 422 listing each failed field.
func NewValidationError(err error) *APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Validation("Invalid request body", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = describe(fe)
	}
	e := Validation("Validation failed", err)
	e.Details = fields
	return e
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
