package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nitrinonet/monitord/internal/logger"
)

// SSE connection limits. Long-lived connections are bounded so a
// restarting proxy cannot hold subscriber slots forever.
const (
	maxSSEConnectionDuration = 30 * time.Minute
	sseHeartbeatInterval     = 30 * time.Second
	maxNotificationLimit     = 200
)

// initNotificationRoutes registers notification endpoints.
func (c *Controller) initNotificationRoutes() {
	if c.notifications == nil {
		return
	}
	notifications := c.Group.Group("/notifications")
	notifications.GET("", c.ListNotifications)
	notifications.GET("/unread/count", c.GetUnreadCount)
	notifications.GET("/stream", c.StreamNotifications)
	notifications.PATCH("/:id/read", c.MarkNotificationRead)
	notifications.POST("/read-all", c.MarkAllNotificationsRead)
}

// userID resolves the acting user from the request. Empty means the
// broadcast scope; per-user scoping comes from the external auth layer
// via header.
func userID(ctx echo.Context) string {
	return ctx.Request().Header.Get("X-User-ID")
}

// ListNotifications returns recent notifications for the acting user,
// broadcasts included.
func (c *Controller) ListNotifications(ctx echo.Context) error {
	limit := 50
	if limitParam := ctx.QueryParam("limit"); limitParam != "" {
		v, err := strconv.Atoi(limitParam)
		if err == nil && v > 0 {
			if v > maxNotificationLimit {
				v = maxNotificationLimit
			}
			limit = v
		}
	}

	items, err := c.notifications.List(ctx.Request().Context(), userID(ctx), limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list notifications", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"notifications": items,
		"count":         len(items),
	})
}

// GetUnreadCount returns the number of unread notifications.
func (c *Controller) GetUnreadCount(ctx echo.Context) error {
	count, err := c.notifications.UnreadCount(ctx.Request().Context(), userID(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to count unread notifications", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"unread": count})
}

// MarkNotificationRead marks one notification as read.
func (c *Controller) MarkNotificationRead(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid notification ID"})
	}

	if err := c.notifications.MarkAsRead(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to mark notification as read", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "is_read": true})
}

// MarkAllNotificationsRead marks every unread notification as read.
func (c *Controller) MarkAllNotificationsRead(ctx echo.Context) error {
	updated, err := c.notifications.MarkAllAsRead(ctx.Request().Context(), userID(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to mark notifications as read", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"updated": updated})
}

// StreamNotifications pushes new notifications to the client over SSE.
func (c *Controller) StreamNotifications(ctx echo.Context) error {
	setSSEHeaders(ctx)

	subID, events := c.notifications.Subscribe()
	defer c.notifications.Unsubscribe(subID)

	c.logInfoIfEnabled("notification stream connected",
		logger.Uint64("subscriber", subID),
		logger.String("remote", ctx.RealIP()))

	if err := sendSSEMessage(ctx, "connected", map[string]string{
		"timestamp": time.Now().Format(time.RFC3339),
	}); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()
	deadline := time.NewTimer(maxSSEConnectionDuration)
	defer deadline.Stop()

	reqCtx := ctx.Request().Context()
	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-deadline.C:
			// Client reconnects; this just recycles the subscription.
			return nil
		case <-heartbeat.C:
			if err := sendSSEMessage(ctx, "heartbeat", map[string]string{
				"timestamp": time.Now().Format(time.RFC3339),
			}); err != nil {
				return nil
			}
		case n, ok := <-events:
			if !ok {
				return nil
			}
			if err := sendSSEMessage(ctx, "notification", n); err != nil {
				return nil
			}
		}
	}
}

func setSSEHeaders(ctx echo.Context) {
	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	ctx.Response().WriteHeader(http.StatusOK)
}

func sendSSEMessage(ctx echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	ctx.Response().Flush()
	return nil
}
