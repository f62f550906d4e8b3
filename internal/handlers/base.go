package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/gustausantin/La-ia-app-sub001/pkg/context"
	"github.com/gustausantin/La-ia-app-sub001/pkg/lifecycle"
	"github.com/gustausantin/La-ia-app-sub001/pkg/middleware"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/rules"
	"github.com/gustausantin/La-ia-app-sub001/pkg/templates"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service is the operator facade the handlers drive. Implemented by
// lifecycle.Service.
type Service interface {
	RefreshAnalytics(ctx context.Context, restaurantID uuid.UUID) (lifecycle.RefreshResult, error)
	ExecuteRules(ctx context.Context, restaurantID uuid.UUID, segment *models.Segment) (rules.Result, error)
	ManualSend(ctx context.Context, restaurantID uuid.UUID, req lifecycle.ManualSendRequest) (*models.ScheduledMessage, error)
	ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.ScheduledMessage, error)
	GetMessage(ctx context.Context, restaurantID, id uuid.UUID) (*models.ScheduledMessage, error)
	SendNow(ctx context.Context, restaurantID, id uuid.UUID) (*models.ScheduledMessage, error)
	Skip(ctx context.Context, restaurantID, id uuid.UUID, reason string) (*models.ScheduledMessage, error)
	Edit(ctx context.Context, restaurantID, id uuid.UUID, content string) (*models.ScheduledMessage, error)
	Preview(ctx context.Context, restaurantID, id uuid.UUID) (templates.Rendered, error)
}

// ParseUUID parses a UUID from a path parameter
func ParseUUID(c echo.Context, param string) (uuid.UUID, error) {
	idStr := c.Param(param)
	if idStr == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a valid UUID", param)
	}

	return id, nil
}

// GetRestaurantID extracts the restaurant scope set by the context middleware
func GetRestaurantID(c echo.Context) (uuid.UUID, error) {
	ctx := c.Request().Context()
	restaurantIDStr := appctx.GetRestaurantID(ctx)
	if restaurantIDStr == "" {
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s header is required", middleware.HeaderRestaurantID)
	}

	restaurantID, err := uuid.Parse(restaurantIDStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a valid UUID", middleware.HeaderRestaurantID)
	}

	return restaurantID, nil
}

// BindRequest binds and validates a request body
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if err := c.Bind(&v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}

	if err := validate.Struct(v); err != nil {
		return v, BadRequest(validationMessage(err))
	}

	return v, nil
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(msgs, ", ")
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
