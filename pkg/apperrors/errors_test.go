package apperrors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
)

func TestKindsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", apperrors.NewRaceLostError("m1", "planned"))

	assert.True(t, apperrors.IsRaceLost(wrapped))
	assert.False(t, apperrors.IsNotFound(wrapped))
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := apperrors.NewProviderError("twilio", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, apperrors.IsProviderError(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestToHTTPError_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", apperrors.NewNotFoundError("message", "m1"), http.StatusNotFound},
		{"invalid transition", apperrors.NewInvalidTransitionError("m1", "sent", "skipped"), http.StatusConflict},
		{"race lost", apperrors.NewRaceLostError("m1", "planned"), http.StatusConflict},
		{"validation", apperrors.NewValidationError("customer.email", "missing"), http.StatusUnprocessableEntity},
		{"configuration", apperrors.NewConfigurationError("r1", "email", "no credentials"), http.StatusUnprocessableEntity},
		{"provider", apperrors.NewProviderError("resend", errors.New("timeout")), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr := apperrors.ToHTTPError(tt.err)
			assert.True(t, httperror.IsHTTPError(httpErr))
			assert.Equal(t, tt.code, httperror.GetStatusCode(httpErr))
		})
	}
}

func TestToHTTPError_PassesThroughHTTPErrors(t *testing.T) {
	original := httperror.NewHTTPError(http.StatusTeapot, "teapot")
	assert.Equal(t, http.StatusTeapot, httperror.GetStatusCode(apperrors.ToHTTPError(original)))
	assert.Nil(t, apperrors.ToHTTPError(nil))
}
