package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request through logrus.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   status,
			"duration": time.Since(start).String(),
			"viewer":   GetViewer(c),
		})
		switch {
		case status >= 500:
			entry.Error("❌ Request failed")
		case status >= 400:
			entry.Warn("⚠️  Request rejected")
		default:
			entry.Debug("Request served")
		}
	}
}
