package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	logger "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Logger"
)

// Key types for request context
type contextKey string

const (
	RequestIDContextKey contextKey = "request_id"

	// RequestIDHeader is read from incoming requests and echoed on every response
	RequestIDHeader = "X-Request-ID"

	maxRequestIDLength = 128
)

// RequestID assigns every request an id, reusing the caller's X-Request-ID when it is printable ASCII of at most 128 bytes
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}

		c.Set(string(RequestIDContextKey), id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// validRequestID accepts non-empty printable ASCII up to maxRequestIDLength bytes
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// RequestLogger logs one line per request once the handler chain has finished
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	httpLog := log.WithComponent("http")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		event := httpLog.Logger.Info()
		switch {
		case status >= 500:
			event = httpLog.Logger.Error()
		case status >= 400:
			event = httpLog.Logger.Warn()
		}

		if id, ok := GetRequestIDFromGinContext(c); ok {
			event = event.Str("request_id", id)
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", c.Request.URL.RawQuery).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// GetRequestIDFromGinContext retrieves the request id set by RequestID
func GetRequestIDFromGinContext(c *gin.Context) (string, bool) {
	val, exists := c.Get(string(RequestIDContextKey))
	if !exists {
		return "", false
	}
	id, ok := val.(string)
	return id, ok
}
