// Package docerr defines the error taxonomy shared by the validation,
// rendering, indexing and job-processing pipeline.
//
// Go Pattern: Instead of exception classes we use one concrete error type
// carrying a Kind. Callers inspect it with errors.As, and fmt.Errorf("%w")
// chains keep the original cause available for logging.
package docerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	InvalidPdf           Kind = "INVALID_PDF"
	CorruptedFile        Kind = "CORRUPTED_FILE"
	PasswordProtected    Kind = "PASSWORD_PROTECTED"
	TooLarge             Kind = "TOO_LARGE"
	ProcessingTimeout    Kind = "PROCESSING_TIMEOUT"
	StorageError         Kind = "STORAGE_ERROR"
	TextExtractionFailed Kind = "TEXT_EXTRACTION_FAILED"
	RenderingFailed      Kind = "RENDERING_FAILED"
	CacheError           Kind = "CACHE_ERROR"
)

// Error is a typed pipeline error. DocumentID and PageNumber are optional
// and only used for correlation in logs and job records.
type Error struct {
	Kind       Kind
	Message    string
	DocumentID string
	PageNumber int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.DocumentID != "" {
		fmt.Fprintf(&b, " (document %s", e.DocumentID)
		if e.PageNumber > 0 {
			fmt.Fprintf(&b, ", page %d", e.PageNumber)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error without an underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDocument returns a copy of e annotated with a document id.
func (e *Error) WithDocument(id string) *Error {
	cp := *e
	cp.DocumentID = id
	return &cp
}

// WithPage returns a copy of e annotated with a page number.
func (e *Error) WithPage(page int) *Error {
	cp := *e
	cp.PageNumber = page
	return &cp
}

// KindOf returns the kind of a typed error, falling back to the legacy
// message heuristic for errors produced by libraries we don't control.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return Classify(err)
}

// As converts any error into a typed *Error, classifying it if needed.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Wrap(Classify(err), err, "unexpected failure")
}

// Classify maps an untyped error to a Kind by inspecting its message.
//
// This is a best-effort adapter for errors coming out of the PDF
// libraries and external converters, not a contract: a message that
// mentions "timeout" for unrelated reasons is still classified as a
// timeout. Prefer returning *Error at the source.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ProcessingTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password"), strings.Contains(msg, "encrypt"):
		return PasswordProtected
	case strings.Contains(msg, "corrupt"):
		return CorruptedFile
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ProcessingTimeout
	case strings.Contains(msg, "memory"), strings.Contains(msg, "size"):
		return TooLarge
	}
	return RenderingFailed
}

// IsRetryable reports whether the failure comes from the environment
// (storage, cache, time budget) and may succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case StorageError, CacheError, ProcessingTimeout:
		return true
	}
	return false
}

// IsPermanent reports whether the input itself is the problem.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case PasswordProtected, CorruptedFile, InvalidPdf, TooLarge:
		return true
	}
	return false
}

// UserFacing is the short, actionable description shown to end users.
type UserFacing struct {
	Title       string
	Message     string
	Suggestions []string
}

var userMessages = map[Kind]UserFacing{
	InvalidPdf: {
		Title:   "Not a valid PDF",
		Message: "The uploaded file is not a PDF document we can read.",
		Suggestions: []string{
			"Make sure the file has a .pdf extension and was exported as PDF",
			"Try re-saving the document from its original application",
		},
	},
	CorruptedFile: {
		Title:   "The PDF appears to be damaged",
		Message: "The file is missing parts of its internal structure.",
		Suggestions: []string{
			"Download or export the file again",
			"Open it in a PDF reader and use \"Save as\" to repair it",
		},
	},
	PasswordProtected: {
		Title:   "The PDF is password protected",
		Message: "Encrypted documents cannot be converted for viewing.",
		Suggestions: []string{
			"Remove password protection and upload again",
		},
	},
	TooLarge: {
		Title:   "The document is too large",
		Message: "The file exceeds the size or page limits for processing.",
		Suggestions: []string{
			"Compress the file",
			"Split the document into smaller parts",
		},
	},
	ProcessingTimeout: {
		Title:   "Processing took too long",
		Message: "The document could not be processed within the time limit.",
		Suggestions: []string{
			"Try again later",
			"Reduce the number of pages or image resolution",
		},
	},
	StorageError: {
		Title:   "Storage is unavailable",
		Message: "The document could not be read from or written to storage.",
		Suggestions: []string{
			"Try again in a few minutes",
		},
	},
	TextExtractionFailed: {
		Title:   "Text could not be extracted",
		Message: "Pages can be viewed but search is unavailable for this document.",
		Suggestions: []string{
			"Upload a version of the document with selectable text",
		},
	},
	RenderingFailed: {
		Title:   "The page could not be rendered",
		Message: "None of the available converters could produce an image.",
		Suggestions: []string{
			"Try again later",
			"Re-export the PDF with a standard PDF writer",
		},
	},
	CacheError: {
		Title:   "Temporary caching problem",
		Message: "The page cache failed while processing the request.",
		Suggestions: []string{
			"Try again",
		},
	},
}

// UserMessage translates an error into a user-facing description.
func UserMessage(err error) UserFacing {
	if m, ok := userMessages[KindOf(err)]; ok {
		return m
	}
	return userMessages[RenderingFailed]
}

// HTTPStatus maps a kind to the status code the HTTP layer responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidPdf, CorruptedFile, PasswordProtected:
		return http.StatusUnprocessableEntity
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	case ProcessingTimeout:
		return http.StatusGatewayTimeout
	case StorageError, CacheError:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
