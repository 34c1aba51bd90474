// pages.go serves the viewer: page images, text search, statistics and
// client-reported events.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/document-viewer-api/internal/middleware"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/render"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/textindex"
)

// GetPage returns one page image.
// GET /api/v1/documents/:id/pages/:page?width=&height=&quality=&format=&watermark=
func (h *Handler) GetPage(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	pageNumber, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		badRequest(c, "invalid_page", "Page must be a positive integer")
		return
	}

	var params models.PageParams
	if err := c.ShouldBindQuery(&params); err != nil {
		badRequest(c, "invalid_options", err.Error())
		return
	}
	opts := render.Options{
		Width:     params.Width,
		Height:    params.Height,
		Quality:   params.Quality,
		Format:    params.Format,
		Watermark: params.Watermark,
	}

	page, err := h.Viewer.GetPage(c.Request.Context(), id, pageNumber, opts, middleware.GetViewer(c))
	if err != nil {
		respondError(c, err)
		return
	}

	switch {
	case page.Placeholder:
		c.Header("Cache-Control", "no-store")
	case page.FromCache:
		c.Header("X-Cache", "HIT")
		c.Header("Cache-Control", "private, max-age=300")
	default:
		c.Header("X-Cache", "MISS")
		c.Header("Cache-Control", "private, max-age=300")
	}
	c.Data(http.StatusOK, page.ContentType, page.Data)
}

// SearchDocument searches the document's extracted text.
// GET /api/v1/documents/:id/search?q=&case_sensitive=&limit=&offset=
func (h *Handler) SearchDocument(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var params models.SearchParams
	if err := c.ShouldBindQuery(&params); err != nil {
		badRequest(c, "invalid_request", "Provide a search query with the 'q' parameter")
		return
	}

	results, err := h.Viewer.Search(c.Request.Context(), id, params.Query, textindex.SearchOptions{
		CaseSensitive: params.CaseSensitive,
		Limit:         params.Limit,
		Offset:        params.Offset,
	}, middleware.GetViewer(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SearchResponse{
		Query:   params.Query,
		Results: results,
		Count:   len(results),
	})
}

// GetStats returns access statistics for a document.
// GET /api/v1/documents/:id/stats
func (h *Handler) GetStats(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	stats, err := h.Viewer.Stats(c.Request.Context(), id, middleware.GetViewer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RecordEvent records a client-side event such as navigation or download.
// POST /api/v1/documents/:id/events
func (h *Handler) RecordEvent(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req models.RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Provide an 'action' in the request body")
		return
	}
	if _, err := models.ParseAccessAction(req.Action); err != nil {
		badRequest(c, "invalid_action", err.Error())
		return
	}
	if req.PageNumber != nil && *req.PageNumber < 1 {
		badRequest(c, "invalid_page", "page_number must be positive")
		return
	}

	if err := h.Viewer.RecordEvent(c.Request.Context(), id, middleware.GetViewer(c), req); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
