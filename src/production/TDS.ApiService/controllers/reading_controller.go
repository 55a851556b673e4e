package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.ApiService/middleware"
	logger "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Logger"
	interfaces "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Repository/Interfaces"
)

// ReadingController serves the read-only view over stored readings
type ReadingController struct {
	readingRepo interfaces.ReadingRepository
	logger      *logger.Logger
}

// NewReadingController creates a new reading controller
func NewReadingController(readingRepo interfaces.ReadingRepository, log *logger.Logger) *ReadingController {
	return &ReadingController{
		readingRepo: readingRepo,
		logger:      log.WithComponent("reading_controller"),
	}
}

// RegisterRoutes registers the reading routes with Gin
func (c *ReadingController) RegisterRoutes(router gin.IRouter) {
	router.GET("/last_message", c.GetLastMessage)
	router.GET("/tds_history", c.GetHistory)
}

func (c *ReadingController) GetLastMessage(ctx *gin.Context) {
	reading, err := c.readingRepo.GetLatestReading(ctx.Request.Context())
	if err != nil {
		c.requestLogger(ctx).Logger.Error().Err(err).Msg("Failed to load latest reading")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if reading == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no readings"})
		return
	}

	ctx.JSON(http.StatusOK, reading)
}

func (c *ReadingController) GetHistory(ctx *gin.Context) {
	// anything unparsable falls back to the full window
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", "0"))
	if err != nil {
		limit = 0
	}

	readings, err := c.readingRepo.GetRecentReadings(ctx.Request.Context(), interfaces.ClampLimit(limit))
	if err != nil {
		c.requestLogger(ctx).Logger.Error().Err(err).Msg("Failed to load reading history")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, readings)
}

func (c *ReadingController) requestLogger(ctx *gin.Context) *logger.Logger {
	if id, ok := middleware.GetRequestIDFromGinContext(ctx); ok {
		return c.logger.WithRequestID(id)
	}
	return c.logger
}
