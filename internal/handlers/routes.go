package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the operator API under /api/v1 and the provider
// callbacks under /webhooks.
func RegisterRoutes(e *echo.Echo, service Service, reconciler Reconciler, logger ectologger.Logger) {
	api := e.Group("/api/v1")
	NewAutomationHandler(service, logger).Register(api)
	NewMessageHandler(service, logger).Register(api.Group("/messages"))

	NewWebhookHandler(reconciler, logger).Register(e.Group("/webhooks"))
}
