package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
)

type PostingHistoryRepository interface {
	Create(ctx context.Context, ph *models.PostingHistory) (int64, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostingHistory, error)
}

type postingHistoryRepository struct {
	db *sql.DB
}

func NewPostingHistoryRepository(db *sql.DB) PostingHistoryRepository {
	return &postingHistoryRepository{db: db}
}

func (r *postingHistoryRepository) Create(ctx context.Context, ph *models.PostingHistory) (int64, error) {
	query := `
		INSERT INTO posting_history (organization_id, post_id, account_id, platform, event, status,
			platform_post_id, retry_count, error_message, timezone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		ph.OrganizationID,
		ph.PostID,
		ph.AccountID,
		ph.Platform,
		ph.Event,
		ph.Status,
		ph.PlatformPostID,
		ph.RetryCount,
		ph.ErrorMessage,
		ph.Timezone,
		ph.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert posting history: %w", err)
	}

	return id, nil
}

func (r *postingHistoryRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostingHistory, error) {
	query := `
		SELECT id, organization_id, post_id, account_id, platform, event, status, platform_post_id,
			retry_count, error_message, timezone, created_at
		FROM posting_history
		WHERE post_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("list posting history: %w", err)
	}
	defer rows.Close()

	var phs []*models.PostingHistory
	for rows.Next() {
		var ph models.PostingHistory
		err := rows.Scan(&ph.ID, &ph.OrganizationID, &ph.PostID, &ph.AccountID, &ph.Platform, &ph.Event,
			&ph.Status, &ph.PlatformPostID, &ph.RetryCount, &ph.ErrorMessage, &ph.Timezone, &ph.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan posting history: %w", err)
		}
		phs = append(phs, &ph)
	}
	return phs, rows.Err()
}
