package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// CreateDocument inserts a document. The caller assigns the ID so the
// blob can be written under it before the row exists.
func (db *DB) CreateDocument(ctx context.Context, d *models.Document) error {
	if d.Status == "" {
		d.Status = models.DocumentPending
	}
	query := `
		INSERT INTO documents (id, title, owner_id, storage_key, original_name, total_pages, status,
			text_extracted, file_size, mime_type, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	return db.QueryRowContext(ctx, query,
		d.ID, d.Title, d.OwnerID, d.StorageKey, d.OriginalName, d.TotalPages, d.Status,
		d.TextExtracted, d.FileSize, d.MimeType, d.Checksum,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

// GetDocument retrieves a single document by ID.
func (db *DB) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var d models.Document
	if err := db.GetContext(ctx, &d, `SELECT * FROM documents WHERE id = $1`, id); err != nil {
		return nil, notFound(err, "document "+id)
	}
	return &d, nil
}

// SetDocumentStatus moves a document to a new status. The row is locked
// while the transition is checked, so two workers cannot race a
// document backwards.
func (db *DB) SetDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, reset bool) error {
	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		var current models.DocumentStatus
		err := tx.GetContext(ctx, &current, `SELECT status FROM documents WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return notFound(err, "document "+id)
		}
		if !current.CanTransition(status, reset) {
			return fmt.Errorf("document %s %s -> %s: %w", id, current, status, ErrInvalidTransition)
		}

		query := `UPDATE documents SET status = $2, updated_at = NOW() WHERE id = $1`
		if reset {
			query = `UPDATE documents SET status = $2, processed_at = NULL, updated_at = NOW() WHERE id = $1`
		}
		_, err = tx.ExecContext(ctx, query, id, status)
		return err
	})
}

// CompleteDocument records the final page count and marks the document
// COMPLETED. Only a PROCESSING document can complete.
func (db *DB) CompleteDocument(ctx context.Context, id string, totalPages int, textExtracted bool) error {
	result, err := db.ExecContext(ctx, `
		UPDATE documents
		SET status = $2, total_pages = $3, text_extracted = $4, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $5`,
		id, models.DocumentCompleted, totalPages, textExtracted, models.DocumentProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete document: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("document %s is not processing: %w", id, ErrInvalidTransition)
	}
	return nil
}

// DeleteDocument removes a document with its pages, jobs, text entries
// and access logs in one transaction.
func (db *DB) DeleteDocument(ctx context.Context, id string) error {
	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, q := range []string{
			`DELETE FROM access_logs WHERE document_id = $1`,
			`DELETE FROM text_search_entries WHERE document_id = $1`,
			`DELETE FROM processing_jobs WHERE document_id = $1`,
			`DELETE FROM pages WHERE document_id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("failed to delete document children: %w", err)
			}
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return nil
	})
}
