// documents.go handles upload, lookup, deletion and reprocessing of
// documents, plus job status polling.
//
// POST   /api/v1/documents               - Upload a PDF (multipart "file" + "title")
// GET    /api/v1/documents/:id           - Document metadata
// DELETE /api/v1/documents/:id           - Delete document, pages and logs
// POST   /api/v1/documents/:id/reprocess - Queue a fresh processing job
// GET    /api/v1/jobs/:id                - Job status and progress
package handlers

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/middleware"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/render"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/worker"
	"github.com/Shimizu-Technology/document-viewer-api/internal/storage"
)

// multipartOverhead is allowed on top of the file size limit for the
// form boundaries and the other fields.
const multipartOverhead = 1 << 20

// UploadDocument validates an uploaded PDF, stores it and queues it for
// processing. The response is sent before any page is rendered; clients
// poll GET /jobs/:id for progress.
// POST /api/v1/documents
func (h *Handler) UploadDocument(c *gin.Context) {
	maxSize := h.Validator.Options().MaxSize
	if c.Request.ContentLength > maxSize+multipartOverhead {
		respondError(c, docerr.New(docerr.TooLarge, "request body is %d bytes", c.Request.ContentLength))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+multipartOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, "invalid_request", fmt.Sprintf("No PDF file provided. Upload a file with the field name 'file'. Max size: %d bytes.", maxSize))
		return
	}
	defer file.Close()

	// Read one byte past the limit so an oversized file is detected
	// without buffering all of it.
	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		badRequest(c, "read_error", "Failed to read uploaded file")
		return
	}

	format, quality := c.PostForm("format"), c.PostForm("quality")
	if _, err := (render.Options{Format: format, Quality: quality}).Normalize(); err != nil {
		badRequest(c, "invalid_options", err.Error())
		return
	}

	result, err := h.Validator.ValidateUpload(data, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		log.WithFields(log.Fields{"filename": header.Filename, "size": len(data)}).
			WithError(err).Info("🚫 Upload rejected")
		respondError(c, err)
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		base := filepath.Base(header.Filename)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	sum := blake2b.Sum256(data)
	id := uuid.NewString()

	doc := &models.Document{
		ID:           id,
		Title:        title,
		OwnerID:      middleware.GetViewer(c),
		StorageKey:   storage.OriginalKey(id),
		OriginalName: header.Filename,
		Status:       models.DocumentPending,
		FileSize:     int64(len(data)),
		MimeType:     "application/pdf",
		Checksum:     hex.EncodeToString(sum[:]),
	}
	if err := h.Repo.CreateDocument(c.Request.Context(), doc); err != nil {
		respondError(c, docerr.Wrap(docerr.StorageError, err, "failed to create document"))
		return
	}

	jobID, err := h.Worker.Submit(c.Request.Context(), doc.ID, data, worker.SubmitOptions{Format: format, Quality: quality})
	if err != nil {
		respondError(c, err)
		return
	}

	warnings := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		warnings = append(warnings, string(w))
	}

	log.WithFields(log.Fields{
		"document_id": doc.ID,
		"job_id":      jobID,
		"size":        doc.FileSize,
		"pdf_version": result.Version,
	}).Info("📄 Document uploaded")

	c.JSON(http.StatusAccepted, models.UploadResponse{
		Document: *doc,
		JobID:    jobID,
		Warnings: warnings,
	})
}

// GetDocument returns document metadata.
// GET /api/v1/documents/:id
func (h *Handler) GetDocument(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	doc, err := h.Viewer.Document(c.Request.Context(), id, middleware.GetViewer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// DeleteDocument removes a document and everything attached to it.
// DELETE /api/v1/documents/:id
func (h *Handler) DeleteDocument(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.Viewer.DeleteDocument(c.Request.Context(), id, middleware.GetViewer(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReprocessDocument queues a fresh job for a finished document. If the
// document is still being processed the live job is returned instead.
// POST /api/v1/documents/:id/reprocess
func (h *Handler) ReprocessDocument(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if _, err := h.Viewer.Document(c.Request.Context(), id, middleware.GetViewer(c)); err != nil {
		respondError(c, err)
		return
	}

	jobID, err := h.Worker.Resubmit(c.Request.Context(), id, worker.SubmitOptions{
		Format:  c.Query("format"),
		Quality: c.Query("quality"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.Viewer.Forget(id)

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// GetJob returns a job's status and progress.
// GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	status, err := h.Worker.GetJobStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	// Jobs are visible to the owner of their document only.
	if _, err := h.Viewer.Document(c.Request.Context(), status.DocumentID, middleware.GetViewer(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
