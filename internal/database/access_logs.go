package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

// InsertAccessLog appends one viewer event. Entries are never updated.
func (db *DB) InsertAccessLog(ctx context.Context, e *models.AccessLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	query := `
		INSERT INTO access_logs (id, user_id, document_id, page_number, action, session_id, time_spent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	return db.QueryRowContext(ctx, query,
		e.ID, e.UserID, e.DocumentID, e.PageNumber, e.Action, e.SessionID, e.TimeSpent,
	).Scan(&e.CreatedAt)
}

// DocumentStats aggregates a document's access log. Views by date cover
// events since `since`; the other figures cover the whole retained log.
func (db *DB) DocumentStats(ctx context.Context, documentID string, since time.Time) (*models.DocumentStats, error) {
	stats := &models.DocumentStats{
		DocumentID:  documentID,
		TopPages:    []models.PageViews{},
		ViewsByDate: []models.DailyViews{},
	}

	var totals struct {
		Total   int `db:"total"`
		Viewers int `db:"viewers"`
		Spent   int `db:"spent"`
	}
	err := db.GetContext(ctx, &totals, `
		SELECT COUNT(*) AS total,
			COUNT(DISTINCT user_id) AS viewers,
			COALESCE(SUM(time_spent), 0) AS spent
		FROM access_logs WHERE document_id = $1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate access totals: %w", err)
	}
	stats.TotalAccesses = totals.Total
	stats.UniqueViewers = totals.Viewers
	stats.TotalTimeSpent = totals.Spent

	err = db.SelectContext(ctx, &stats.TopPages, `
		SELECT page_number, COUNT(*) AS views
		FROM access_logs
		WHERE document_id = $1 AND action = $2 AND page_number IS NOT NULL
		GROUP BY page_number
		ORDER BY views DESC, page_number ASC
		LIMIT $3`, documentID, models.ActionView, TopPagesLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate top pages: %w", err)
	}

	err = db.SelectContext(ctx, &stats.ViewsByDate, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS date, COUNT(*) AS views
		FROM access_logs
		WHERE document_id = $1 AND action = $2 AND created_at >= $3
		GROUP BY 1
		ORDER BY 1 ASC`, documentID, models.ActionView, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily views: %w", err)
	}

	return stats, nil
}

// PruneAccessLogs deletes events older than before.
func (db *DB) PruneAccessLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM access_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune access logs: %w", err)
	}
	return result.RowsAffected()
}
