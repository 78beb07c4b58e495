package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"kvnode/internal/metrics"
)

// Logger is a Gin middleware that logs every request with method, path,
// status code, and latency, and records it in the request-duration
// histogram.
func Logger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Dur("latency", timer.Elapsed()).
			Msg("request")

		timer.ObserveDurationVec(metrics.RequestDuration, c.FullPath(), statusClass(status))
	}
}

// Recovery wraps Gin's panic recovery, logging through zerolog instead of
// the standard library logger.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Msg("recovered from panic")
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
