package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/classifier"
)

type healthResponse struct {
	Status        string  `json:"status"`
	EngineState   string  `json:"engine_state"`
	Database      string  `json:"database"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthCheck handles GET /api/v2/health. It always answers 200 so load
// balancers can read the body; degradation shows in the status field.
// An unloaded engine is healthy: the model loads lazily on the first
// identification.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	resp := healthResponse{
		Status:        "healthy",
		EngineState:   c.Engine.State().String(),
		Database:      "connected",
		UptimeSeconds: time.Since(c.startTime).Seconds(),
	}

	if err := c.DS.Ping(ctx.Request().Context()); err != nil {
		c.logger.Warn("health check database ping failed", "error", err)
		resp.Database = "disconnected"
		resp.Status = "degraded"
	}
	if c.Engine.State() == classifier.StateError {
		resp.Status = "degraded"
	}

	return ctx.JSON(http.StatusOK, resp)
}

type reloadResponse struct {
	Status      string `json:"status"`
	EngineState string `json:"engine_state"`
}

// ReloadModel handles POST /api/v2/model/reload. A reload replaces the
// model instance and clears a previous load failure; in-flight
// predictions finish on the old instance.
func (c *Controller) ReloadModel(ctx echo.Context) error {
	if err := c.Engine.Reload(ctx.Request().Context()); err != nil {
		return c.HandleError(ctx, err, "model reload failed", statusFor(err))
	}

	c.logger.Info("model reloaded", "engine_state", c.Engine.State().String())
	return ctx.JSON(http.StatusOK, reloadResponse{
		Status:      "reloaded",
		EngineState: c.Engine.State().String(),
	})
}
