// jobs.go handles processing-job persistence.
//
// The "at most one live job per document" rule is enforced twice: a
// locked check-then-insert in CreateJob, and a partial unique index on
// processing_jobs(document_id) for QUEUED/PROCESSING rows that catches
// anything the check misses.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// CreateJob returns the document's live job if one exists (created ==
// false); otherwise it inserts a fresh QUEUED job.
func (db *DB) CreateJob(ctx context.Context, documentID string) (*models.ProcessingJob, bool, error) {
	var job models.ProcessingJob
	created := false

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		// Lock the document row so concurrent submits serialize here.
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			`SELECT TRUE FROM documents WHERE id = $1 FOR UPDATE`, documentID); err != nil {
			return notFound(err, "document "+documentID)
		}

		err := tx.GetContext(ctx, &job,
			`SELECT * FROM processing_jobs WHERE document_id = $1 AND status IN ($2, $3) LIMIT 1`,
			documentID, models.JobQueued, models.JobProcessing)
		if err == nil {
			return nil
		}
		if !isNoRows(err) {
			return fmt.Errorf("failed to look up live job: %w", err)
		}

		err = tx.GetContext(ctx, &job, `
			INSERT INTO processing_jobs (id, document_id, status, progress, attempts)
			VALUES ($1, $2, $3, 0, 0)
			RETURNING *`,
			uuid.NewString(), documentID, models.JobQueued)
		if err != nil {
			return err
		}
		created = true
		return nil
	})

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		// Lost a race with another submit; return the winner's job.
		live, lerr := db.GetLiveJob(ctx, documentID)
		return live, false, lerr
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}
	return &job, created, nil
}

// GetJob retrieves a job by ID.
func (db *DB) GetJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	if err := db.GetContext(ctx, &job, `SELECT * FROM processing_jobs WHERE id = $1`, id); err != nil {
		return nil, notFound(err, "job "+id)
	}
	return &job, nil
}

// GetLiveJob returns the QUEUED or PROCESSING job of a document.
func (db *DB) GetLiveJob(ctx context.Context, documentID string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	err := db.GetContext(ctx, &job,
		`SELECT * FROM processing_jobs WHERE document_id = $1 AND status IN ($2, $3) LIMIT 1`,
		documentID, models.JobQueued, models.JobProcessing)
	if err != nil {
		return nil, notFound(err, "live job for document "+documentID)
	}
	return &job, nil
}

// ListJobsByStatus returns jobs in any of the given states, oldest first.
func (db *DB) ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.ProcessingJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM processing_jobs WHERE status IN (?) ORDER BY created_at ASC`, statuses)
	if err != nil {
		return nil, err
	}

	var jobs []models.ProcessingJob
	if err := db.SelectContext(ctx, &jobs, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// StartJob moves a QUEUED job to PROCESSING, resets progress and counts
// the attempt.
func (db *DB) StartJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	err := db.GetContext(ctx, &job, `
		UPDATE processing_jobs
		SET status = $2, progress = 0, attempts = attempts + 1, started_at = NOW(), error_message = ''
		WHERE id = $1 AND status = $3
		RETURNING *`,
		id, models.JobProcessing, models.JobQueued)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("job %s is not queued: %w", id, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("failed to start job: %w", err)
	}
	return &job, nil
}

// UpdateJobProgress raises a PROCESSING job's progress. GREATEST keeps
// progress non-decreasing even if updates arrive out of order.
func (db *DB) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := db.ExecContext(ctx, `
		UPDATE processing_jobs SET progress = GREATEST(progress, LEAST($2, 100))
		WHERE id = $1 AND status = $3`,
		id, progress, models.JobProcessing)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// RequeueJob puts a PROCESSING job back in the queue after a transient
// failure. Progress restarts from zero on the next attempt.
func (db *DB) RequeueJob(ctx context.Context, id string, reason string) error {
	return db.transitionJob(ctx, `
		UPDATE processing_jobs SET status = $2, progress = 0, error_message = $3
		WHERE id = $1 AND status = $4`,
		id, models.JobQueued, reason, models.JobProcessing)
}

// CompleteJob marks a PROCESSING job COMPLETED at 100%.
func (db *DB) CompleteJob(ctx context.Context, id string) error {
	return db.transitionJob(ctx, `
		UPDATE processing_jobs SET status = $2, progress = 100, error_message = '', completed_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, models.JobCompleted, models.JobProcessing)
}

// FailJob marks a live job FAILED. Progress is left where it stopped.
func (db *DB) FailJob(ctx context.Context, id string, message string) error {
	return db.transitionJob(ctx, `
		UPDATE processing_jobs SET status = $2, error_message = $3, completed_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)`,
		id, models.JobFailed, message, models.JobQueued, models.JobProcessing)
}

func (db *DB) transitionJob(ctx context.Context, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("job %v: %w", args[0], ErrInvalidTransition)
	}
	return nil
}

// PruneJobs keeps the newest keepCompleted COMPLETED jobs and the newest
// keepFailed FAILED jobs, deleting the rest. Live jobs are never touched.
func (db *DB) PruneJobs(ctx context.Context, keepCompleted, keepFailed int) (int64, error) {
	query := `
		DELETE FROM processing_jobs WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (ORDER BY COALESCE(completed_at, created_at) DESC, id) AS rn
				FROM processing_jobs WHERE status = $1
			) ranked WHERE rn > $2
		)`

	var total int64
	for status, keep := range map[models.JobStatus]int{
		models.JobCompleted: keepCompleted,
		models.JobFailed:    keepFailed,
	} {
		result, err := db.ExecContext(ctx, query, status, keep)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s jobs: %w", status, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}
