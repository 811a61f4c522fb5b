package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/errors"
	"github.com/nitrinonet/monitord/internal/logger"
)

const maxHistoryLimit = 200

// initAlertRoutes registers alert rule API endpoints.
func (c *Controller) initAlertRoutes() {
	if c.alertRules == nil {
		return
	}
	alerts := c.Group.Group("/alerts")

	alerts.GET("/schema", c.GetAlertSchema)
	alerts.GET("/rules", c.ListAlertRules)
	alerts.GET("/rules/export", c.ExportAlertRules)
	alerts.GET("/rules/:id", c.GetAlertRule)
	alerts.GET("/history", c.ListAlertHistory)

	alerts.POST("/rules", c.CreateAlertRule)
	alerts.PUT("/rules/:id", c.UpdateAlertRule)
	alerts.PATCH("/rules/:id/toggle", c.ToggleAlertRule)
	alerts.DELETE("/rules/:id", c.DeleteAlertRule)
	alerts.POST("/rules/:id/test", c.TestAlertRule)
	alerts.POST("/rules/import", c.ImportAlertRules)
}

// GetAlertSchema returns the alerting schema for rule editors.
func (c *Controller) GetAlertSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, alerting.GetSchema())
}

// ListAlertRules returns all alert rules, optionally filtered.
func (c *Controller) ListAlertRules(ctx echo.Context) error {
	filter := repository.AlertRuleFilter{
		Category: ctx.QueryParam("category"),
		Severity: ctx.QueryParam("severity"),
	}
	if enabledParam := ctx.QueryParam("enabled"); enabledParam != "" {
		v := enabledParam == QueryValueTrue
		filter.Enabled = &v
	}
	if builtInParam := ctx.QueryParam("built_in"); builtInParam != "" {
		v := builtInParam == QueryValueTrue
		filter.BuiltIn = &v
	}

	rules, err := c.alertRules.ListRules(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert rules", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetAlertRule returns a single alert rule by ID.
func (c *Controller) GetAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule ID"})
	}

	rule, err := c.alertRules.GetRule(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAlertRuleNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alert rule not found"})
		}
		return c.HandleError(ctx, err, "Failed to get alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rule)
}

// validateRule checks rule fields shared by create and update.
func validateRule(rule *entities.AlertRule) string {
	switch {
	case rule.Name == "":
		return "Rule name is required"
	case rule.Metric == "":
		return "Metric is required"
	case !alerting.IsValidCategory(rule.Category):
		return "Invalid category"
	case !alerting.IsValidOperator(rule.Operator):
		return "Invalid operator"
	case !alerting.IsValidSeverity(rule.Severity):
		return "Invalid severity"
	case rule.DurationSec < 0 || rule.CooldownSec < 0:
		return "Duration and cooldown must not be negative"
	}
	return ""
}

// CreateAlertRule creates a new alert rule.
func (c *Controller) CreateAlertRule(ctx echo.Context) error {
	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if msg := validateRule(&rule); msg != "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": msg})
	}

	count, err := c.alertRules.CountRulesByName(ctx.Request().Context(), rule.Name)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create alert rule", http.StatusInternalServerError)
	}
	if count > 0 {
		return ctx.JSON(http.StatusConflict, map[string]string{"error": "A rule with this name already exists"})
	}

	rule.ID = 0
	rule.BuiltIn = false
	if err := c.alertRules.CreateRule(ctx.Request().Context(), &rule); err != nil {
		return c.HandleError(ctx, err, "Failed to create alert rule", http.StatusInternalServerError)
	}

	c.refreshAlertEngine(ctx)
	c.logInfoIfEnabled("alert rule created",
		logger.String("name", rule.Name),
		logger.Uint64("id", uint64(rule.ID)))
	return ctx.JSON(http.StatusCreated, rule)
}

// UpdateAlertRule replaces an existing alert rule.
func (c *Controller) UpdateAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule ID"})
	}

	existing, err := c.alertRules.GetRule(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAlertRuleNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alert rule not found"})
		}
		return c.HandleError(ctx, err, "Failed to get alert rule", http.StatusInternalServerError)
	}

	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if msg := validateRule(&rule); msg != "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": msg})
	}

	rule.ID = existing.ID
	rule.BuiltIn = existing.BuiltIn
	rule.CreatedAt = existing.CreatedAt

	if err := c.alertRules.UpdateRule(ctx.Request().Context(), &rule); err != nil {
		return c.HandleError(ctx, err, "Failed to update alert rule", http.StatusInternalServerError)
	}

	c.refreshAlertEngine(ctx)
	return ctx.JSON(http.StatusOK, rule)
}

// ToggleAlertRule enables or disables an alert rule.
func (c *Controller) ToggleAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule ID"})
	}

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := ctx.Bind(&body); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if err := c.alertRules.ToggleRule(ctx.Request().Context(), id, body.Enabled); err != nil {
		if errors.Is(err, repository.ErrAlertRuleNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alert rule not found"})
		}
		return c.HandleError(ctx, err, "Failed to toggle alert rule", http.StatusInternalServerError)
	}

	c.refreshAlertEngine(ctx)
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "enabled": body.Enabled})
}

// DeleteAlertRule deletes an alert rule.
func (c *Controller) DeleteAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule ID"})
	}

	if err := c.alertRules.DeleteRule(ctx.Request().Context(), id); err != nil {
		if errors.Is(err, repository.ErrAlertRuleNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alert rule not found"})
		}
		return c.HandleError(ctx, err, "Failed to delete alert rule", http.StatusInternalServerError)
	}

	c.refreshAlertEngine(ctx)
	return ctx.NoContent(http.StatusNoContent)
}

// TestAlertRule fires a rule's notification path directly, bypassing
// condition evaluation.
func (c *Controller) TestAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule ID"})
	}

	rule, err := c.alertRules.GetRule(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAlertRuleNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alert rule not found"})
		}
		return c.HandleError(ctx, err, "Failed to get alert rule", http.StatusInternalServerError)
	}

	if c.alertEngine != nil {
		c.alertEngine.TestFireRule(rule)
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "test fired"})
}

// ListAlertHistory returns paginated alert firing history.
func (c *Controller) ListAlertHistory(ctx echo.Context) error {
	filter := repository.AlertHistoryFilter{Limit: 50}

	if ruleIDParam := ctx.QueryParam("rule_id"); ruleIDParam != "" {
		v, err := strconv.ParseUint(ruleIDParam, 10, 64)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule_id"})
		}
		filter.RuleID = uint(v)
	}
	if deviceIDParam := ctx.QueryParam("device_id"); deviceIDParam != "" {
		v, err := strconv.ParseUint(deviceIDParam, 10, 64)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid device_id"})
		}
		filter.DeviceID = uint(v)
	}
	if limitParam := ctx.QueryParam("limit"); limitParam != "" {
		v, err := strconv.Atoi(limitParam)
		if err == nil && v > 0 {
			if v > maxHistoryLimit {
				v = maxHistoryLimit
			}
			filter.Limit = v
		}
	}
	if offsetParam := ctx.QueryParam("offset"); offsetParam != "" {
		v, err := strconv.Atoi(offsetParam)
		if err == nil && v >= 0 {
			filter.Offset = v
		}
	}

	items, total, err := c.alertRules.ListHistory(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert history", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"history": items,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// ExportAlertRules exports all rules as JSON.
func (c *Controller) ExportAlertRules(ctx echo.Context) error {
	rules, err := c.alertRules.ListRules(ctx.Request().Context(), repository.AlertRuleFilter{})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to export alert rules", http.StatusInternalServerError)
	}

	ctx.Response().Header().Set("Content-Disposition", "attachment; filename=alert-rules.json")
	return ctx.JSON(http.StatusOK, map[string]any{
		"rules":   rules,
		"version": 1,
	})
}

// ImportAlertRules imports rules from a previously exported JSON document.
// Invalid rules are skipped; the response reports how many landed.
func (c *Controller) ImportAlertRules(ctx echo.Context) error {
	var payload struct {
		Rules   []entities.AlertRule `json:"rules"`
		Version int                  `json:"version"`
	}
	if err := json.NewDecoder(ctx.Request().Body).Decode(&payload); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
	}

	reqCtx := ctx.Request().Context()
	var imported int
	for i := range payload.Rules {
		rule := &payload.Rules[i]
		rule.ID = 0
		if validateRule(rule) != "" {
			continue
		}
		if err := c.alertRules.CreateRule(reqCtx, rule); err != nil {
			c.logErrorIfEnabled("failed to import rule",
				logger.String("name", rule.Name), logger.Error(err))
			continue
		}
		imported++
	}

	c.refreshAlertEngine(ctx)
	return ctx.JSON(http.StatusOK, map[string]any{
		"imported": imported,
		"total":    len(payload.Rules),
	})
}

// refreshAlertEngine refreshes the engine's rule cache if the engine is set.
func (c *Controller) refreshAlertEngine(ctx echo.Context) {
	if c.alertEngine != nil {
		if err := c.alertEngine.RefreshRules(ctx.Request().Context()); err != nil {
			c.logErrorIfEnabled("failed to refresh alert engine rules", logger.Error(err))
		}
	}
}
