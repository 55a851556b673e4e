package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	health "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Health"
)

// HealthController handles liveness, readiness and metrics requests
type HealthController struct {
	checker  *health.HealthChecker
	gatherer prometheus.Gatherer
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.HealthChecker, gatherer prometheus.Gatherer) *HealthController {
	return &HealthController{
		checker:  checker,
		gatherer: gatherer,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router gin.IRouter) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})))
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// HealthReady reports 503 while any registered dependency check fails
func (c *HealthController) HealthReady(ctx *gin.Context) {
	status, healthy := c.checker.GetHealthStatus(ctx.Request.Context())
	if !healthy {
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
