package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

// --- Page Operations ---

// UpsertPage writes a rendered page. Re-rendering an existing page
// replaces its image reference and dimensions but keeps attached text.
func (db *DB) UpsertPage(ctx context.Context, p *models.Page) error {
	query := `
		INSERT INTO pages (document_id, page_number, image_key, width, height, thumbnail_key, text, word_bounds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_id, page_number) DO UPDATE
		SET image_key = EXCLUDED.image_key,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			thumbnail_key = COALESCE(EXCLUDED.thumbnail_key, pages.thumbnail_key),
			text = COALESCE(EXCLUDED.text, pages.text),
			word_bounds = COALESCE(EXCLUDED.word_bounds, pages.word_bounds)
		RETURNING created_at`

	if p.PageNumber < 1 {
		return fmt.Errorf("page numbers start at 1, got %d", p.PageNumber)
	}
	return db.QueryRowContext(ctx, query,
		p.DocumentID, p.PageNumber, p.ImageKey, p.Width, p.Height,
		p.ThumbnailKey, p.Text, p.WordBounds,
	).Scan(&p.CreatedAt)
}

// GetPage retrieves one page row. Callers must not infer a page exists
// because a lower-numbered one does.
func (db *DB) GetPage(ctx context.Context, documentID string, pageNumber int) (*models.Page, error) {
	var p models.Page
	err := db.GetContext(ctx, &p,
		`SELECT * FROM pages WHERE document_id = $1 AND page_number = $2`, documentID, pageNumber)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("page %d of document %s", pageNumber, documentID))
	}
	return &p, nil
}

// ListPages returns all pages of a document in page order.
func (db *DB) ListPages(ctx context.Context, documentID string) ([]models.Page, error) {
	var pages []models.Page
	err := db.SelectContext(ctx, &pages,
		`SELECT * FROM pages WHERE document_id = $1 ORDER BY page_number ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return pages, nil
}

// SetPageText attaches extracted text to an existing page.
func (db *DB) SetPageText(ctx context.Context, documentID string, pageNumber int, text string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE pages SET text = $3 WHERE document_id = $1 AND page_number = $2`,
		documentID, pageNumber, text)
	if err != nil {
		return fmt.Errorf("failed to set page text: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("page %d of document %s: %w", pageNumber, documentID, ErrNotFound)
	}
	return nil
}

// --- Text Search Operations ---

// ReplaceTextEntries swaps a document's search entries for a new set.
func (db *DB) ReplaceTextEntries(ctx context.Context, documentID string, entries []models.TextSearchEntry) error {
	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM text_search_entries WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("failed to clear text entries: %w", err)
		}
		for _, e := range entries {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO text_search_entries (document_id, page_number, content, word_index)
				VALUES ($1, $2, $3, $4)`,
				documentID, e.PageNumber, e.Content, e.WordIndex)
			if err != nil {
				return fmt.Errorf("failed to insert text for page %d: %w", e.PageNumber, err)
			}
		}
		return nil
	})
}

// ListTextEntries returns a document's search entries in page order.
func (db *DB) ListTextEntries(ctx context.Context, documentID string) ([]models.TextSearchEntry, error) {
	var entries []models.TextSearchEntry
	err := db.SelectContext(ctx, &entries,
		`SELECT * FROM text_search_entries WHERE document_id = $1 ORDER BY page_number ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list text entries: %w", err)
	}
	return entries, nil
}
