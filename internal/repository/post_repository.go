package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/maheshrc27/postflow/internal/models"
)

// TransitionFunc mutates a locked copy of the post. Returning an error
// aborts the update and leaves the row untouched.
type TransitionFunc func(p *models.Post) error

type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	ListByStatus(ctx context.Context, status models.PostStatus, limit int) ([]*models.Post, error)
	// Transition is the only way to change a post's status. It applies fn
	// to the current row under a per-post lock and bumps the version.
	Transition(ctx context.Context, id int64, fn TransitionFunc) (*models.Post, error)
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, organization_id, user_id, account_id, body, media_ids, options, scheduled_at, timezone,
	status, job_id, queue_status, platform_post_id, error_message, retry_count, max_retries, version,
	created_at, updated_at`

func scanPost(row scanner) (*models.Post, error) {
	var (
		post  models.Post
		jobID sql.NullString
	)
	err := row.Scan(
		&post.ID,
		&post.OrganizationID,
		&post.UserID,
		&post.AccountID,
		&post.Body,
		pq.Array(&post.MediaIDs),
		&post.Options,
		&post.ScheduledAt,
		&post.Timezone,
		&post.Status,
		&jobID,
		&post.QueueStatus,
		&post.PlatformPostID,
		&post.ErrorMessage,
		&post.RetryCount,
		&post.MaxRetries,
		&post.Version,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	post.JobID = stringPtr(jobID)
	post.ScheduledAt = post.ScheduledAt.UTC()
	return &post, nil
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (organization_id, user_id, account_id, body, media_ids, options, scheduled_at,
			timezone, status, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	if post.Status == "" {
		post.Status = models.PostStatusDraft
	}
	if post.MaxRetries <= 0 {
		post.MaxRetries = models.DefaultMaxRetries
	}

	var id int64
	err := pick(r.db, tx).QueryRowContext(ctx, query,
		post.OrganizationID,
		post.UserID,
		post.AccountID,
		post.Body,
		pq.Array(post.MediaIDs),
		post.Options,
		post.ScheduledAt.UTC(),
		post.Timezone,
		post.Status,
		post.MaxRetries,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}

	post.ID = id
	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get post %d: %w", id, err)
	}
	return post, nil
}

func (r *postRepository) ListByStatus(ctx context.Context, status models.PostStatus, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE status = $1 ORDER BY scheduled_at ASC`
	args := []interface{}{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts by status: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (r *postRepository) Transition(ctx context.Context, id int64, fn TransitionFunc) (*models.Post, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1 FOR UPDATE`
	post, err := scanPost(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("lock post %d: %w", id, err)
	}

	version := post.Version
	if err := fn(post); err != nil {
		return nil, err
	}

	update := `
		UPDATE posts
		SET body = $1,
			media_ids = $2,
			options = $3,
			scheduled_at = $4,
			timezone = $5,
			status = $6,
			job_id = $7,
			queue_status = $8,
			platform_post_id = $9,
			error_message = $10,
			retry_count = $11,
			max_retries = $12,
			version = version + 1,
			updated_at = $13
		WHERE id = $14 AND version = $15
	`
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, update,
		post.Body,
		pq.Array(post.MediaIDs),
		post.Options,
		post.ScheduledAt.UTC(),
		post.Timezone,
		post.Status,
		nullString(post.JobID),
		post.QueueStatus,
		post.PlatformPostID,
		post.ErrorMessage,
		post.RetryCount,
		post.MaxRetries,
		now,
		id,
		version,
	)
	if err != nil {
		return nil, fmt.Errorf("update post %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("post %d: %w", id, ErrVersionConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	post.Version = version + 1
	post.UpdatedAt = now
	return post, nil
}
