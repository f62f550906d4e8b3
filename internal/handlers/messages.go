package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/gustausantin/La-ia-app-sub001/pkg/lifecycle"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

// MessageHandler handles scheduled message endpoints
type MessageHandler struct {
	service Service
	logger  ectologger.Logger
}

func NewMessageHandler(service Service, logger ectologger.Logger) *MessageHandler {
	return &MessageHandler{
		service: service,
		logger:  logger,
	}
}

// SkipRequest represents the skip message request body
type SkipRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// EditContentRequest represents the edit content request body
type EditContentRequest struct {
	Content string `json:"content" validate:"required"`
}

// Register registers message routes
func (h *MessageHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.GET("/:id/preview", h.Preview)
	g.POST("/:id/send-now", h.SendNow)
	g.POST("/:id/skip", h.Skip)
	g.PUT("/:id/content", h.EditContent)
}

// List returns the restaurant's messages, optionally filtered by status or customer
func (h *MessageHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MessageHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	restaurantID, err := GetRestaurantID(c)
	if err != nil {
		return err
	}

	filter := models.MessageFilter{RestaurantID: restaurantID}
	if s := c.QueryParam("status"); s != "" {
		status := models.MessageStatus(s)
		filter.Status = &status
	}
	if s := c.QueryParam("customer_id"); s != "" {
		customerID, err := uuid.Parse(s)
		if err != nil {
			return BadRequest("invalid customer_id")
		}
		filter.CustomerID = &customerID
	}
	if filter.Limit, err = intParam(c, "limit"); err != nil {
		return err
	}
	if filter.Offset, err = intParam(c, "offset"); err != nil {
		return err
	}

	messages, err := h.service.ListMessages(ctx, filter)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []models.ScheduledMessage{}
	}

	return SuccessResponse(c, messages)
}

func intParam(c echo.Context, name string) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, BadRequest("invalid " + name)
	}
	return n, nil
}

// Create plans a one-off message for a customer
func (h *MessageHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MessageHandler.Create")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	restaurantID, err := GetRestaurantID(c)
	if err != nil {
		return err
	}

	req, err := BindRequest[lifecycle.ManualSendRequest](c)
	if err != nil {
		return err
	}

	msg, err := h.service.ManualSend(ctx, restaurantID, req)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to plan manual message")
		return err
	}

	h.logger.WithContext(ctx).Infof("Planned manual message %s for customer %s", msg.ID, msg.CustomerID)
	return CreatedResponse(c, msg)
}

// Get returns a message by ID
func (h *MessageHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MessageHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	restaurantID, id, err := h.scope(c)
	if err != nil {
		return err
	}

	msg, err := h.service.GetMessage(ctx, restaurantID, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, msg)
}

// Preview returns the channel, subject and content that would be sent
func (h *MessageHandler) Preview(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MessageHandler.Preview")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	restaurantID, id, err := h.scope(c)
	if err != nil {
		return err
	}

	rendered, err := h.service.Preview(ctx, restaurantID, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, rendered)
}

// SendNow makes a planned message due immediately
func (h *MessageHandler) SendNow(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MessageHandler.SendNow")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	restaurantID, id, err := h.scope(c)
	if err != nil {
		return err
	}

	msg, err := h.service.SendNow(ctx, restaurantID, id)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warnf("Failed to send message %s now", id)
		return err
	}

	return SuccessResponse(c, msg)
}

// Skip cancels a planned message
func (h *MessageHandler) Skip(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MessageHandler.Skip")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	restaurantID, id, err := h.scope(c)
	if err != nil {
		return err
	}

	var req SkipRequest
	if c.Request().ContentLength != 0 {
		if req, err = BindRequest[SkipRequest](c); err != nil {
			return err
		}
	}

	msg, err := h.service.Skip(ctx, restaurantID, id, req.Reason)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warnf("Failed to skip message %s", id)
		return err
	}

	return SuccessResponse(c, msg)
}

// EditContent replaces the rendered content of a planned message
func (h *MessageHandler) EditContent(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MessageHandler.EditContent")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	restaurantID, id, err := h.scope(c)
	if err != nil {
		return err
	}

	req, err := BindRequest[EditContentRequest](c)
	if err != nil {
		return err
	}

	msg, err := h.service.Edit(ctx, restaurantID, id, req.Content)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warnf("Failed to edit message %s", id)
		return err
	}

	return SuccessResponse(c, msg)
}

func (h *MessageHandler) scope(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	restaurantID, err := GetRestaurantID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := ParseUUID(c, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return restaurantID, id, nil
}
