package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestConstructors_StatusAndRetry(t *testing.T) {
	tests := []struct {
		err       *APIError
		status    int
		retryable bool
	}{
		{Validation("bad", nil), http.StatusUnprocessableEntity, false},
		{Permission("no", nil), http.StatusForbidden, false},
		{Archived("gone", nil), http.StatusLocked, false},
		{NotFound("missing", nil), http.StatusNotFound, false},
		{ConflictRetry("again", nil), http.StatusConflict, true},
		{Store("down", nil), http.StatusServiceUnavailable, true},
		{Internal(nil), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.err.Status, tt.err.Code)
		assert.Equal(t, tt.retryable, tt.err.Retryable, tt.err.Code)
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	cause := errors.New("db closed")
	err := Store("Storage unavailable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Storage unavailable: db closed", err.Error())
}

func TestNewValidationError_ListsFields(t *testing.T) {
	type form struct {
		Title string `validate:"required"`
		Email string `validate:"email"`
	}
	err := validator.New().Struct(form{Email: "nope"})

	apiErr := NewValidationError(err)

	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, map[string]string{"title": "is required", "email": "must be a valid email"}, apiErr.Details)
}
