package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/logger"
)

// initWebhookRoutes registers inbound webhook endpoints.
func (c *Controller) initWebhookRoutes() {
	if c.bridge == nil {
		return
	}
	c.Group.POST("/webhooks/alertmanager", c.ReceiveAlertmanagerWebhook)
}

// ReceiveAlertmanagerWebhook accepts an Alertmanager-compatible payload
// and feeds its alerts into the notification pipeline.
func (c *Controller) ReceiveAlertmanagerWebhook(ctx echo.Context) error {
	var payload alerting.WebhookPayload
	if err := ctx.Bind(&payload); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid webhook payload"})
	}
	if len(payload.Alerts) == 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Payload contains no alerts"})
	}

	accepted := c.bridge.Handle(&payload)
	c.logInfoIfEnabled("external alerts accepted",
		logger.Int("received", len(payload.Alerts)),
		logger.Int("accepted", accepted))
	return ctx.JSON(http.StatusAccepted, map[string]any{
		"received": len(payload.Alerts),
		"accepted": accepted,
	})
}
