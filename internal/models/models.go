// Package models defines the data structures used throughout the application.
//
// Go Pattern: Models are plain structs with JSON tags for serialization.
// The `db` tags work with sqlx for column mapping; the database package
// handles persistence and the services never touch SQL directly.
package models

import (
	"fmt"
	"time"
)

// DocumentStatus represents the processing state of an uploaded document.
// Go Pattern: Go has no enums, so a named string type plus constants is the idiom.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "PENDING"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentCompleted  DocumentStatus = "COMPLETED"
	DocumentFailed     DocumentStatus = "FAILED"
)

// rank orders statuses so the repository can refuse regressions.
func (s DocumentStatus) rank() int {
	switch s {
	case DocumentPending:
		return 0
	case DocumentProcessing:
		return 1
	case DocumentCompleted, DocumentFailed:
		return 2
	}
	return -1
}

// CanTransition reports whether a document may move from s to next.
// Status only moves forward; a terminal document goes back to PENDING
// only through an explicit re-enqueue (reset == true).
func (s DocumentStatus) CanTransition(next DocumentStatus, reset bool) bool {
	if reset {
		return next == DocumentPending && s.IsTerminal()
	}
	if s.IsTerminal() {
		return s == next
	}
	return next.rank() >= s.rank()
}

// IsTerminal reports whether no further automatic transition can happen.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentCompleted || s == DocumentFailed
}

// JobStatus is the state of a ProcessingJob.
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether the job has finished for good.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IsLive reports whether the job still counts as the document's active job.
func (s JobStatus) IsLive() bool {
	return s == JobQueued || s == JobProcessing
}

// Document is one uploaded file.
type Document struct {
	ID            string         `json:"id" db:"id"`
	Title         string         `json:"title" db:"title"`
	OwnerID       string         `json:"owner_id" db:"owner_id"`
	StorageKey    string         `json:"storage_key" db:"storage_key"`
	OriginalName  string         `json:"original_name" db:"original_name"`
	TotalPages    int            `json:"total_pages" db:"total_pages"`
	Status        DocumentStatus `json:"status" db:"status"`
	TextExtracted bool           `json:"text_extracted" db:"text_extracted"`
	FileSize      int64          `json:"file_size" db:"file_size"`
	MimeType      string         `json:"mime_type" db:"mime_type"`
	Checksum      string         `json:"checksum" db:"checksum"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty" db:"processed_at"` // Pointer = nullable
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// Page is one rendered page of a Document. Page numbers are 1-based.
type Page struct {
	DocumentID   string    `json:"document_id" db:"document_id"`
	PageNumber   int       `json:"page_number" db:"page_number"`
	ImageKey     string    `json:"image_key" db:"image_key"`
	Width        int       `json:"width" db:"width"`
	Height       int       `json:"height" db:"height"`
	ThumbnailKey *string   `json:"thumbnail_key,omitempty" db:"thumbnail_key"`
	Text         *string   `json:"text,omitempty" db:"text"`
	WordBounds   []byte    `json:"word_bounds,omitempty" db:"word_bounds"` // JSONB, optional
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ProcessingJob tracks the asynchronous conversion of one document.
type ProcessingJob struct {
	ID           string     `json:"id" db:"id"`
	DocumentID   string     `json:"document_id" db:"document_id"`
	Status       JobStatus  `json:"status" db:"status"`
	Progress     int        `json:"progress" db:"progress"` // 0-100
	Attempts     int        `json:"attempts" db:"attempts"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// TextSearchEntry holds the searchable text of one page.
type TextSearchEntry struct {
	DocumentID string    `json:"document_id" db:"document_id"`
	PageNumber int       `json:"page_number" db:"page_number"`
	Content    string    `json:"content" db:"content"`
	WordIndex  []byte    `json:"word_index,omitempty" db:"word_index"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AccessAction is the kind of viewer event recorded in the access log.
type AccessAction string

const (
	ActionView     AccessAction = "VIEW"
	ActionSearch   AccessAction = "SEARCH"
	ActionNavigate AccessAction = "NAVIGATE"
	ActionDownload AccessAction = "DOWNLOAD"
	ActionShare    AccessAction = "SHARE"
)

// ParseAccessAction validates a client-supplied action name.
func ParseAccessAction(s string) (AccessAction, error) {
	switch a := AccessAction(s); a {
	case ActionView, ActionSearch, ActionNavigate, ActionDownload, ActionShare:
		return a, nil
	}
	return "", fmt.Errorf("unknown access action %q", s)
}

// AccessLogEntry is an append-only viewer event. Never mutated.
type AccessLogEntry struct {
	ID         string       `json:"id" db:"id"`
	UserID     *string      `json:"user_id,omitempty" db:"user_id"`
	DocumentID string       `json:"document_id" db:"document_id"`
	PageNumber *int         `json:"page_number,omitempty" db:"page_number"`
	Action     AccessAction `json:"action" db:"action"`
	SessionID  string       `json:"session_id" db:"session_id"`
	TimeSpent  int          `json:"time_spent" db:"time_spent"` // seconds
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// PageViews is one row of the "top pages" aggregate.
type PageViews struct {
	PageNumber int `json:"page_number" db:"page_number"`
	Views      int `json:"views" db:"views"`
}

// DailyViews is one row of the "views by date" aggregate.
type DailyViews struct {
	Date  string `json:"date" db:"date"` // YYYY-MM-DD
	Views int    `json:"views" db:"views"`
}

// DocumentStats is the per-document analytics summary.
type DocumentStats struct {
	DocumentID     string       `json:"document_id"`
	TotalAccesses  int          `json:"total_accesses"`
	UniqueViewers  int          `json:"unique_viewers"`
	TotalTimeSpent int          `json:"total_time_spent"`
	TopPages       []PageViews  `json:"top_pages"`
	ViewsByDate    []DailyViews `json:"views_by_date"`
}

// SearchResult is one page hit returned by text search.
type SearchResult struct {
	PageNumber int    `json:"page_number"`
	Snippet    string `json:"snippet"`
	Matches    int    `json:"matches"`
}

// --- Request/Response DTOs ---
// Go Pattern: Separate structs for API input/output vs database models.

// UploadResponse is returned by POST /api/v1/documents.
type UploadResponse struct {
	Document Document `json:"document"`
	JobID    string   `json:"job_id"`
	Warnings []string `json:"warnings,omitempty"`
}

// JobStatusResponse is returned by GET /api/v1/jobs/:id.
type JobStatusResponse struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// SearchParams holds query parameters for page text search.
type SearchParams struct {
	Query         string `form:"q" binding:"required"`
	CaseSensitive bool   `form:"case_sensitive"`
	Limit         int    `form:"limit"`
	Offset        int    `form:"offset"`
}

// SearchResponse is returned by GET /api/v1/documents/:id/search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// PageParams are the query parameters of a page image request. Zero
// values mean the defaults.
type PageParams struct {
	Width     int    `form:"width"`
	Height    int    `form:"height"`
	Quality   string `form:"quality"`
	Format    string `form:"format"`
	Watermark string `form:"watermark"`
}

// RecordEventRequest is the JSON body for POST /api/v1/documents/:id/events.
type RecordEventRequest struct {
	Action     string `json:"action" binding:"required"`
	PageNumber *int   `json:"page_number,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	TimeSpent  int    `json:"time_spent,omitempty"`
}

// ErrorResponse is a standard error format for all API errors.
// Title and Suggestions are filled for pipeline failures so the viewer
// can show something actionable instead of a raw error.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Message     string   `json:"message"`
	Code        int      `json:"code"`
	Title       string   `json:"title,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Database   string `json:"database"`
	Workers    int    `json:"workers"`
	QueueDepth int    `json:"queue_depth"`
	CachedPage int    `json:"cached_pages"`
}
