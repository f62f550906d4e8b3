package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	appctx "github.com/gustausantin/La-ia-app-sub001/pkg/context"
)

func serve(t *testing.T, handler echo.HandlerFunc, header map[string]string) (*httptest.ResponseRecorder, ErrorResponse) {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context(), Logger(logger))
	e.GET("/", handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body ErrorResponse
	if rec.Code >= http.StatusBadRequest {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestError_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", apperrors.NewNotFoundError("message", "m1"), http.StatusNotFound},
		{"race lost", apperrors.NewRaceLostError("m1", "planned"), http.StatusConflict},
		{"invalid transition", apperrors.NewInvalidTransitionError("m1", "sent", "skipped"), http.StatusConflict},
		{"validation", apperrors.NewValidationError("status", "unknown status %q", "x"), http.StatusUnprocessableEntity},
		{"provider", apperrors.NewProviderError("twilio", errors.New("timeout")), http.StatusBadGateway},
		{"echo", echo.NewHTTPError(http.StatusBadRequest, "bad body"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serve(t, func(echo.Context) error { return tt.err }, map[string]string{
				echo.HeaderXRequestID: "req-1",
			})
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "req-1", body.RequestID)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestError_HidesInternalDetails(t *testing.T) {
	rec, body := serve(t, func(echo.Context) error { return errors.New("pq: connection reset") }, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", body.Message)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestContext_ScopesRestaurant(t *testing.T) {
	var seen string
	rec, _ := serve(t, func(c echo.Context) error {
		seen = appctx.GetRestaurantID(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}, map[string]string{HeaderRestaurantID: "7f1c9b2e-0000-4000-8000-000000000001"})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "7f1c9b2e-0000-4000-8000-000000000001", seen)
}
