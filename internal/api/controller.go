// Package api exposes the HTTP control surface: device inventory, scan
// jobs, alert rules, notifications, and the inbound alert webhook.
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/logger"
	"github.com/nitrinonet/monitord/internal/notification"
	"github.com/nitrinonet/monitord/internal/scanner"
)

// QueryValueTrue is the canonical truthy query parameter value.
const QueryValueTrue = "true"

// Deps carries everything the controller serves. Nil collaborators
// disable their routes rather than panicking at registration.
type Deps struct {
	Settings      *conf.Settings
	Devices       repository.DeviceRepository
	AlertRules    repository.AlertRuleRepository
	ScanJobs      repository.ScanJobRepository
	Notifications *notification.Service
	Scanner       *scanner.Scanner
	Jobs          *scanner.JobRunner
	AlertEngine   *alerting.Engine
	Bridge        *alerting.WebhookBridge
	Registry      prometheus.Gatherer
	Log           logger.Logger
}

// Controller registers and serves the v1 API.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	settings      *conf.Settings
	devices       repository.DeviceRepository
	alertRules    repository.AlertRuleRepository
	scanJobs      repository.ScanJobRepository
	notifications *notification.Service
	scanner       *scanner.Scanner
	jobs          *scanner.JobRunner
	alertEngine   *alerting.Engine
	bridge        *alerting.WebhookBridge
	log           logger.Logger
}

// New creates the controller and registers all routes on e.
func New(e *echo.Echo, deps *Deps) *Controller {
	c := &Controller{
		Echo:          e,
		Group:         e.Group("/api/v1"),
		settings:      deps.Settings,
		devices:       deps.Devices,
		alertRules:    deps.AlertRules,
		scanJobs:      deps.ScanJobs,
		notifications: deps.Notifications,
		scanner:       deps.Scanner,
		jobs:          deps.Jobs,
		alertEngine:   deps.AlertEngine,
		bridge:        deps.Bridge,
		log:           deps.Log,
	}

	e.Use(middleware.Recover())

	e.GET("/healthz", c.Healthz)
	if deps.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	c.initDeviceRoutes()
	c.initScanRoutes()
	c.initAlertRoutes()
	c.initNotificationRoutes()
	c.initWebhookRoutes()

	return c
}

// Healthz is the liveness probe.
func (c *Controller) Healthz(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleError logs err and responds with a uniform JSON error shape.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, status int) error {
	c.logErrorIfEnabled(message, logger.Error(err))
	return ctx.JSON(status, map[string]string{"error": message})
}

func (c *Controller) logErrorIfEnabled(msg string, fields ...logger.Field) {
	if c.log != nil {
		c.log.Error(msg, fields...)
	}
}

func (c *Controller) logInfoIfEnabled(msg string, fields ...logger.Field) {
	if c.log != nil {
		c.log.Info(msg, fields...)
	}
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
