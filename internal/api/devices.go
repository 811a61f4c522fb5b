package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/errors"
	"github.com/nitrinonet/monitord/internal/logger"
)

// initDeviceRoutes registers device inventory endpoints.
func (c *Controller) initDeviceRoutes() {
	if c.devices == nil {
		return
	}
	devices := c.Group.Group("/devices")
	devices.GET("", c.ListDevices)
	devices.GET("/stats", c.GetDeviceStats)
	devices.GET("/:id", c.GetDevice)
	devices.POST("", c.CreateDevice)
	devices.PATCH("/:id/status", c.UpdateDeviceStatus)
	devices.POST("/:id/relocate", c.RelocateDevice)
	devices.DELETE("/:id", c.DeleteDevice)
}

// ListDevices returns the device inventory, optionally filtered by status.
func (c *Controller) ListDevices(ctx echo.Context) error {
	filter := repository.DeviceFilter{
		Status:    ctx.QueryParam("status"),
		IPAddress: ctx.QueryParam("ip"),
	}
	if filter.Status != "" && !entities.IsValidDeviceStatus(filter.Status) {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid status filter"})
	}

	devices, err := c.devices.ListDevices(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list devices", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// GetDeviceStats returns device counts per status.
func (c *Controller) GetDeviceStats(ctx echo.Context) error {
	stats, err := c.devices.GetStats(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get device stats", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, stats)
}

// GetDevice returns a single device by ID.
func (c *Controller) GetDevice(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid device ID"})
	}

	device, err := c.devices.GetDevice(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Device not found"})
		}
		return c.HandleError(ctx, err, "Failed to get device", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, device)
}

// CreateDevice registers a device manually, ahead of discovery.
func (c *Controller) CreateDevice(ctx echo.Context) error {
	var device entities.Device
	if err := ctx.Bind(&device); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if device.AgentKey == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Agent key is required"})
	}
	if device.Name == "" {
		device.Name = device.AgentKey
	}
	if device.Status == "" {
		device.Status = entities.DeviceStatusUnknown
	}
	if !entities.IsValidDeviceStatus(device.Status) {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid device status"})
	}

	if _, err := c.devices.GetDeviceByAgentKey(ctx.Request().Context(), device.AgentKey); err == nil {
		return ctx.JSON(http.StatusConflict, map[string]string{"error": "A device with this agent key already exists"})
	}

	device.ID = 0
	if err := c.devices.CreateDevice(ctx.Request().Context(), &device); err != nil {
		return c.HandleError(ctx, err, "Failed to create device", http.StatusInternalServerError)
	}

	c.logInfoIfEnabled("device registered",
		logger.Uint64("id", uint64(device.ID)),
		logger.String("agent_key", device.AgentKey))
	return ctx.JSON(http.StatusCreated, device)
}

// UpdateDeviceStatus sets a device's status manually, e.g. to flag a
// decommissioned unit as error.
func (c *Controller) UpdateDeviceStatus(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid device ID"})
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := ctx.Bind(&body); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if !entities.IsValidDeviceStatus(body.Status) {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid device status"})
	}

	if err := c.devices.UpdateStatus(ctx.Request().Context(), id, body.Status, nil); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Device not found"})
		}
		return c.HandleError(ctx, err, "Failed to update device status", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "status": body.Status})
}

// RelocateDevice sweeps for the device's agent key and updates its
// address when the agent answers elsewhere.
func (c *Controller) RelocateDevice(ctx echo.Context) error {
	if c.scanner == nil {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Scanner not available"})
	}

	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid device ID"})
	}

	reqCtx := ctx.Request().Context()
	device, err := c.devices.GetDevice(reqCtx, id)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Device not found"})
		}
		return c.HandleError(ctx, err, "Failed to get device", http.StatusInternalServerError)
	}

	ip, found, err := c.scanner.FindAgentNewIP(reqCtx, device.AgentKey)
	if err != nil {
		return c.HandleError(ctx, err, "Relocation sweep failed", http.StatusInternalServerError)
	}
	if !found {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Agent did not answer anywhere on the subnet"})
	}

	if ip != device.IPAddress {
		if err := c.devices.UpdateIPAddress(reqCtx, id, ip); err != nil {
			return c.HandleError(ctx, err, "Failed to update device address", http.StatusInternalServerError)
		}
		c.logInfoIfEnabled("device relocated",
			logger.Uint64("id", uint64(id)),
			logger.String("old_ip", device.IPAddress),
			logger.String("new_ip", ip))
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"id":         id,
		"ip_address": ip,
		"moved":      ip != device.IPAddress,
	})
}

// DeleteDevice removes a device and clears its alerting state.
func (c *Controller) DeleteDevice(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid device ID"})
	}

	if err := c.devices.DeleteDevice(ctx.Request().Context(), id); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Device not found"})
		}
		return c.HandleError(ctx, err, "Failed to delete device", http.StatusInternalServerError)
	}

	if c.alertEngine != nil {
		c.alertEngine.ForgetDevice(id)
	}
	return ctx.NoContent(http.StatusNoContent)
}
