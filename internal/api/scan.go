package api

import (
	"net"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/errors"
	"github.com/nitrinonet/monitord/internal/logger"
	"github.com/nitrinonet/monitord/internal/scanner"
)

const maxRecentScans = 50

// initScanRoutes registers subnet sweep endpoints.
func (c *Controller) initScanRoutes() {
	if c.jobs == nil || c.scanJobs == nil {
		return
	}
	scan := c.Group.Group("/scan")
	scan.POST("", c.StartScan)
	scan.GET("/subnet", c.GetCurrentSubnet)
	scan.GET("/recent", c.ListRecentScans)
	scan.GET("/:id", c.GetScanJob)
	scan.DELETE("/:id", c.CancelScanJob)
}

// StartScan launches an asynchronous subnet sweep and returns the
// pending job for polling.
func (c *Controller) StartScan(ctx echo.Context) error {
	var body struct {
		Subnet string `json:"subnet"`
	}
	if err := ctx.Bind(&body); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if body.Subnet != "" {
		if _, _, err := net.ParseCIDR(body.Subnet); err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid subnet CIDR"})
		}
	}

	job, err := c.jobs.Start(ctx.Request().Context(), body.Subnet)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to start scan", http.StatusInternalServerError)
	}

	c.logInfoIfEnabled("scan job started",
		logger.String("job_id", job.ID),
		logger.String("subnet", job.Subnet))
	return ctx.JSON(http.StatusAccepted, job)
}

// GetScanJob returns a scan job's current progress and results.
func (c *Controller) GetScanJob(ctx echo.Context) error {
	job, err := c.scanJobs.GetJob(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrScanJobNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Scan job not found"})
		}
		return c.HandleError(ctx, err, "Failed to get scan job", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, job)
}

// CancelScanJob requests cooperative cancellation of a running sweep.
func (c *Controller) CancelScanJob(ctx echo.Context) error {
	id := ctx.Param("id")
	if !c.jobs.Cancel(id) {
		return ctx.JSON(http.StatusConflict, map[string]string{"error": "Scan job is not running"})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"id": id, "status": "cancelling"})
}

// ListRecentScans returns the latest scan jobs.
func (c *Controller) ListRecentScans(ctx echo.Context) error {
	limit := 10
	if limitParam := ctx.QueryParam("limit"); limitParam != "" {
		v, err := strconv.Atoi(limitParam)
		if err == nil && v > 0 {
			if v > maxRecentScans {
				v = maxRecentScans
			}
			limit = v
		}
	}

	jobs, err := c.scanJobs.ListRecent(ctx.Request().Context(), limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list scan jobs", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetCurrentSubnet reports the subnet a default sweep would cover.
func (c *Controller) GetCurrentSubnet(ctx echo.Context) error {
	subnet := ""
	if c.settings != nil {
		subnet = c.settings.Scanner.Subnet
	}
	derived := false
	if subnet == "" {
		detected, err := scanner.CurrentSubnet()
		if err != nil {
			return c.HandleError(ctx, err, "Failed to derive local subnet", http.StatusInternalServerError)
		}
		subnet = detected
		derived = true
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"subnet":  subnet,
		"derived": derived,
	})
}
