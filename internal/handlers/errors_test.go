package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/viewer"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/worker"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		hasTitle bool
	}{
		{"not found", fmt.Errorf("document x: %w", database.ErrNotFound), http.StatusNotFound, "not_found", false},
		{"forbidden", viewer.ErrForbidden, http.StatusForbidden, "forbidden", false},
		{"out of range", viewer.ErrPageOutOfRange, http.StatusBadRequest, "page_out_of_range", false},
		{"queue full", worker.ErrQueueFull, http.StatusServiceUnavailable, "queue_unavailable", false},
		{"password", docerr.New(docerr.PasswordProtected, "encrypted"), http.StatusUnprocessableEntity, "password_protected", true},
		{"too large", docerr.New(docerr.TooLarge, "big"), http.StatusRequestEntityTooLarge, "too_large", true},
		{"storage", docerr.New(docerr.StorageError, "down"), http.StatusServiceUnavailable, "storage_error", true},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "internal_error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

			respondError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.hasTitle, resp.Title != "")
		})
	}
}
