package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

// AutomationHandler exposes the batch operations: analytics refresh and rule
// execution.
type AutomationHandler struct {
	service Service
	logger  ectologger.Logger
}

func NewAutomationHandler(service Service, logger ectologger.Logger) *AutomationHandler {
	return &AutomationHandler{
		service: service,
		logger:  logger,
	}
}

// ExecuteRulesRequest optionally narrows execution to rules targeting one
// segment.
type ExecuteRulesRequest struct {
	Segment *models.Segment `json:"segment,omitempty"`
}

// Register registers automation routes
func (h *AutomationHandler) Register(g *echo.Group) {
	g.POST("/analytics/refresh", h.RefreshAnalytics)
	g.POST("/rules/execute", h.ExecuteRules)
}

// RefreshAnalytics recomputes segments and reservation risk for the restaurant
func (h *AutomationHandler) RefreshAnalytics(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "AutomationHandler.RefreshAnalytics")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	restaurantID, err := GetRestaurantID(c)
	if err != nil {
		return err
	}

	result, err := h.service.RefreshAnalytics(ctx, restaurantID)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to refresh analytics")
		return err
	}

	return SuccessResponse(c, result)
}

// ExecuteRules evaluates the restaurant's active rules
func (h *AutomationHandler) ExecuteRules(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "AutomationHandler.ExecuteRules")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	restaurantID, err := GetRestaurantID(c)
	if err != nil {
		return err
	}

	var req ExecuteRulesRequest
	if c.Request().ContentLength != 0 {
		if req, err = BindRequest[ExecuteRulesRequest](c); err != nil {
			return err
		}
	}
	if req.Segment != nil && !req.Segment.Valid() {
		return apperrors.NewValidationError("segment", "unknown segment %q", *req.Segment)
	}

	result, err := h.service.ExecuteRules(ctx, restaurantID, req.Segment)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to execute rules")
		return err
	}

	h.logger.WithContext(ctx).Infof("Executed %d rules, %d messages queued", result.RulesEvaluated, result.MessagesQueued)
	return SuccessResponse(c, result)
}
