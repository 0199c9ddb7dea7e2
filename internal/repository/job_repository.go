package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

// JobRepository stores the Scheduled Job record of each post, one row per post.
type JobRepository interface {
	// Upsert replaces the record for job.PostID, resetting attempts and checkpoint.
	Upsert(ctx context.Context, job *models.ScheduledJob) error
	GetByPostID(ctx context.Context, postID int64) (*models.ScheduledJob, error)
	SetStatus(ctx context.Context, postID int64, status models.JobStatus, lastError string) error
	SetHandle(ctx context.Context, postID int64, handle string) error
	// MarkAttempt flags the job PROCESSING and counts one more delivery.
	MarkAttempt(ctx context.Context, postID int64) error
	SaveCheckpoint(ctx context.Context, postID int64, cp models.Checkpoint) error
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Upsert(ctx context.Context, job *models.ScheduledJob) error {
	query := `
		INSERT INTO scheduled_jobs (post_id, handle, kind, status, attempts, run_at, checkpoint, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, '', $7, $7)
		ON CONFLICT (post_id) DO UPDATE
		SET handle = EXCLUDED.handle,
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			attempts = 0,
			run_at = EXCLUDED.run_at,
			checkpoint = EXCLUDED.checkpoint,
			last_error = '',
			updated_at = EXCLUDED.updated_at
	`
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query, job.PostID, job.Handle, job.Kind, job.Status, job.RunAt.UTC(), job.Checkpoint, now)
	if err != nil {
		return fmt.Errorf("upsert job for post %d: %w", job.PostID, err)
	}
	return nil
}

func (r *jobRepository) GetByPostID(ctx context.Context, postID int64) (*models.ScheduledJob, error) {
	query := `
		SELECT post_id, handle, kind, status, attempts, run_at, checkpoint, last_error, created_at, updated_at
		FROM scheduled_jobs
		WHERE post_id = $1
	`

	var job models.ScheduledJob
	err := r.db.QueryRowContext(ctx, query, postID).Scan(
		&job.PostID,
		&job.Handle,
		&job.Kind,
		&job.Status,
		&job.Attempts,
		&job.RunAt,
		&job.Checkpoint,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job for post %d: %w", postID, ErrNotFound)
		}
		return nil, fmt.Errorf("get job for post %d: %w", postID, err)
	}
	return &job, nil
}

func (r *jobRepository) SetStatus(ctx context.Context, postID int64, status models.JobStatus, lastError string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = $1,
			last_error = $2,
			updated_at = CURRENT_TIMESTAMP
		WHERE post_id = $3
	`
	return r.exec(ctx, postID, query, status, lastError, postID)
}

func (r *jobRepository) SetHandle(ctx context.Context, postID int64, handle string) error {
	query := `
		UPDATE scheduled_jobs
		SET handle = $1,
			updated_at = CURRENT_TIMESTAMP
		WHERE post_id = $2
	`
	return r.exec(ctx, postID, query, handle, postID)
}

func (r *jobRepository) MarkAttempt(ctx context.Context, postID int64) error {
	query := `
		UPDATE scheduled_jobs
		SET status = $1,
			attempts = attempts + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE post_id = $2
	`
	return r.exec(ctx, postID, query, models.JobStatusProcessing, postID)
}

func (r *jobRepository) SaveCheckpoint(ctx context.Context, postID int64, cp models.Checkpoint) error {
	query := `
		UPDATE scheduled_jobs
		SET checkpoint = $1,
			updated_at = CURRENT_TIMESTAMP
		WHERE post_id = $2
	`
	return r.exec(ctx, postID, query, cp, postID)
}

func (r *jobRepository) exec(ctx context.Context, postID int64, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job for post %d: %w", postID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job for post %d: %w", postID, ErrNotFound)
	}
	return nil
}
