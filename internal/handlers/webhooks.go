package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
	"github.com/gustausantin/La-ia-app-sub001/pkg/webhooks"
)

// maxWebhookBody caps provider callback bodies
const maxWebhookBody = 1 << 20

// Reconciler applies a normalized provider event. Implemented by
// webhooks.Reconciler.
type Reconciler interface {
	Handle(ctx context.Context, ev webhooks.Event) (webhooks.Outcome, error)
}

// WebhookHandler receives provider delivery callbacks. Events for unknown
// messages and redeliveries are acknowledged with 200 so providers stop
// retrying.
type WebhookHandler struct {
	reconciler Reconciler
	logger     ectologger.Logger
	now        func() time.Time
}

func NewWebhookHandler(reconciler Reconciler, logger ectologger.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		logger:     logger,
		now:        time.Now,
	}
}

// Register registers webhook routes
func (h *WebhookHandler) Register(g *echo.Group) {
	g.POST("/whatsapp", h.WhatsApp)
	g.POST("/email", h.Email)
}

// WhatsApp handles form-encoded status callbacks
func (h *WebhookHandler) WhatsApp(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "WebhookHandler.WhatsApp")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	form, err := c.FormParams()
	if err != nil {
		return BadRequest("invalid form body")
	}

	ev, err := webhooks.NormalizeTwilio(form, h.now())
	if err != nil {
		return err
	}

	return h.handle(c, ev)
}

// Email handles JSON event callbacks
func (h *WebhookHandler) Email(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "WebhookHandler.Email")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return BadRequest("unable to read body")
	}

	ev, err := webhooks.NormalizeResend(body, h.now())
	if err != nil {
		return err
	}

	return h.handle(c, ev)
}

func (h *WebhookHandler) handle(c echo.Context, ev webhooks.Event) error {
	ctx := c.Request().Context()

	outcome, err := h.reconciler.Handle(ctx, ev)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider":            ev.Provider,
			"provider_message_id": ev.ProviderMessageID,
		}).Error("Failed to reconcile webhook")
		return err
	}

	return c.JSON(http.StatusOK, outcome)
}
