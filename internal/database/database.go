// Package database handles document, page, job, text and access-log
// persistence.
//
// Go Pattern: We use the `sqlx` package which extends Go's standard
// `database/sql` with struct scanning. Queries are raw SQL, one file per
// domain. The services depend on the Repository interface, so tests (and
// single-node demos) can run against MemoryRepository instead of Postgres.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // PostgreSQL driver; importing it runs its init()

	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

// Sentinel errors shared by every Repository implementation.
var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository is the persistence contract of the processing pipeline.
// Every method is a single-row transactional write except DeleteDocument,
// which removes a document and everything that hangs off it atomically.
type Repository interface {
	Ping(ctx context.Context) error

	// Documents
	CreateDocument(ctx context.Context, d *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	SetDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, reset bool) error
	CompleteDocument(ctx context.Context, id string, totalPages int, textExtracted bool) error
	DeleteDocument(ctx context.Context, id string) error

	// Pages
	UpsertPage(ctx context.Context, p *models.Page) error
	GetPage(ctx context.Context, documentID string, pageNumber int) (*models.Page, error)
	ListPages(ctx context.Context, documentID string) ([]models.Page, error)
	SetPageText(ctx context.Context, documentID string, pageNumber int, text string) error

	// Jobs
	CreateJob(ctx context.Context, documentID string) (job *models.ProcessingJob, created bool, err error)
	GetJob(ctx context.Context, id string) (*models.ProcessingJob, error)
	GetLiveJob(ctx context.Context, documentID string) (*models.ProcessingJob, error)
	ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.ProcessingJob, error)
	StartJob(ctx context.Context, id string) (*models.ProcessingJob, error)
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	RequeueJob(ctx context.Context, id string, reason string) error
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, message string) error
	PruneJobs(ctx context.Context, keepCompleted, keepFailed int) (int64, error)

	// Text search entries
	ReplaceTextEntries(ctx context.Context, documentID string, entries []models.TextSearchEntry) error
	ListTextEntries(ctx context.Context, documentID string) ([]models.TextSearchEntry, error)

	// Access logs
	InsertAccessLog(ctx context.Context, e *models.AccessLogEntry) error
	DocumentStats(ctx context.Context, documentID string, since time.Time) (*models.DocumentStats, error)
	PruneAccessLogs(ctx context.Context, before time.Time) (int64, error)
}

// Aggregate limits for DocumentStats.
const (
	TopPagesLimit = 10
	StatsWindow   = 30 * 24 * time.Hour
)

// DB wraps the sqlx database connection with our application-specific methods.
// Go Pattern: Embedding (*sqlx.DB) gives us all of sqlx's methods automatically,
// plus we can add our own.
type DB struct {
	*sqlx.DB
}

var _ Repository = (*DB)(nil)

// New creates a new database connection with connection pooling configured.
func New(databaseURL string) (*DB, error) {
	// sqlx.Connect both opens the connection and pings the database
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	return &DB{db}, nil
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// inTx runs fn inside a transaction, rolling back on error or panic.
func (db *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// invalidTextRepresentation is the Postgres error code for a value that
// does not parse as the column type, such as a malformed UUID.
const invalidTextRepresentation = "22P02"

// notFound converts sql.ErrNoRows into ErrNotFound with context. A key that
// is not even a valid UUID cannot match a row either.
func notFound(err error, what string) error {
	var pqErr *pq.Error
	if isNoRows(err) || (errors.As(err, &pqErr) && string(pqErr.Code) == invalidTextRepresentation) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
