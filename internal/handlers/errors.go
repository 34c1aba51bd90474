package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/viewer"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/worker"
)

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   code,
		Message: message,
		Code:    http.StatusBadRequest,
	})
}

// idParam returns the :id path parameter. Document and job ids are UUIDs;
// anything else cannot exist, so it is answered with 404 here.
func idParam(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, database.ErrNotFound)
		return "", false
	}
	return id.String(), true
}

// respondError maps service errors to HTTP responses. Pipeline errors
// carry their user-facing title and suggestions.
func respondError(c *gin.Context, err error) {
	simple := func(status int, code, message string) {
		c.JSON(status, models.ErrorResponse{Error: code, Message: message, Code: status})
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		simple(http.StatusNotFound, "not_found", "Resource not found")
		return
	case errors.Is(err, viewer.ErrForbidden):
		simple(http.StatusForbidden, "forbidden", "You do not have access to this document")
		return
	case errors.Is(err, viewer.ErrPageOutOfRange):
		simple(http.StatusBadRequest, "page_out_of_range", err.Error())
		return
	case errors.Is(err, viewer.ErrInvalidOptions):
		simple(http.StatusBadRequest, "invalid_options", err.Error())
		return
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrQueueClosed):
		simple(http.StatusServiceUnavailable, "queue_unavailable", "The processing queue is full. Try again later.")
		return
	}

	var de *docerr.Error
	if errors.As(err, &de) {
		status := docerr.HTTPStatus(de.Kind)
		uf := docerr.UserMessage(de)
		if status >= http.StatusInternalServerError {
			log.WithError(err).WithField("path", c.Request.URL.Path).Error("❌ Request failed")
		}
		c.JSON(status, models.ErrorResponse{
			Error:       strings.ToLower(string(de.Kind)),
			Message:     uf.Message,
			Code:        status,
			Title:       uf.Title,
			Suggestions: uf.Suggestions,
		})
		return
	}

	log.WithError(err).WithField("path", c.Request.URL.Path).Error("❌ Unexpected error")
	simple(http.StatusInternalServerError, "internal_error", "Something went wrong")
}
