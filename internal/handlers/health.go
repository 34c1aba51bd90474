// Package handlers contains HTTP handler functions for the API.
//
// Go Pattern: Handlers in Gin receive a *gin.Context which provides the
// request data, the response methods and values set by middleware.
// Related handlers are grouped into a struct (Handler) that holds shared
// dependencies, so tests can build one with in-memory collaborators.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/cache"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/validator"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/viewer"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/worker"
)

// Handler holds shared dependencies for all HTTP handlers.
type Handler struct {
	Repo      database.Repository
	Worker    *worker.Pool
	Viewer    *viewer.Service
	Validator *validator.Validator
	Cache     *cache.PageCache
	Version   string
}

// NewHandler creates a new handler with all dependencies.
func NewHandler(repo database.Repository, wp *worker.Pool, vs *viewer.Service, v *validator.Validator, pc *cache.PageCache, version string) *Handler {
	return &Handler{
		Repo:      repo,
		Worker:    wp,
		Viewer:    vs,
		Validator: v,
		Cache:     pc,
		Version:   version,
	}
}

// HealthCheck returns the API health status.
// GET /api/v1/health
func (h *Handler) HealthCheck(c *gin.Context) {
	status := "ok"
	dbStatus := "healthy"
	if err := h.Repo.Ping(c.Request.Context()); err != nil {
		status = "degraded"
		dbStatus = "unhealthy: " + err.Error()
	}

	c.JSON(http.StatusOK, models.HealthResponse{
		Status:     status,
		Version:    h.Version,
		Database:   dbStatus,
		Workers:    h.Worker.WorkerCount(),
		QueueDepth: h.Worker.QueueSize(),
		CachedPage: h.Cache.Len(),
	})
}
