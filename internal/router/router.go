// Package router sets up all HTTP routes for the API.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Shimizu-Technology/document-viewer-api/internal/handlers"
	"github.com/Shimizu-Technology/document-viewer-api/internal/middleware"
)

// Setup creates and configures the Gin router with all routes.
func Setup(h *handlers.Handler, rateLimiter *middleware.RateLimiter, jwtSecret string, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(allowedOrigins))

	// --- Public Routes (no auth required) ---
	r.GET("/api/v1/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// --- Protected Routes (JWT bearer, rate limited per viewer) ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.Authenticate(jwtSecret))
	protected.Use(rateLimiter.RateLimit())
	{
		protected.POST("/documents", h.UploadDocument)
		protected.GET("/documents/:id", h.GetDocument)
		protected.DELETE("/documents/:id", h.DeleteDocument)
		protected.POST("/documents/:id/reprocess", h.ReprocessDocument)

		protected.GET("/documents/:id/pages/:page", h.GetPage)
		protected.GET("/documents/:id/search", h.SearchDocument)
		protected.GET("/documents/:id/stats", h.GetStats)
		protected.POST("/documents/:id/events", h.RecordEvent)

		protected.GET("/jobs/:id", h.GetJob)
	}

	return r
}
