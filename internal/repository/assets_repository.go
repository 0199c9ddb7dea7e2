package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/maheshrc27/postflow/internal/models"
)

type MediaAssetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) error
	// GetByIDs returns the assets found, in no particular order.
	GetByIDs(ctx context.Context, ids []string) ([]*models.MediaAsset, error)
}

type mediaAssetRepository struct {
	db *sql.DB
}

func NewMediaAssetRepository(db *sql.DB) MediaAssetRepository {
	return &mediaAssetRepository{db: db}
}

func (r *mediaAssetRepository) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) error {
	query := `
		INSERT INTO media_assets (id, organization_id, object_key, file_name, file_type, file_size, public_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := pick(r.db, tx).ExecContext(ctx, query,
		ma.ID, ma.OrganizationID, ma.ObjectKey, ma.FileName, ma.FileType, ma.FileSize, ma.PublicURL)
	if err != nil {
		return fmt.Errorf("insert media asset: %w", err)
	}
	return nil
}

func (r *mediaAssetRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.MediaAsset, error) {
	query := `
		SELECT id, organization_id, object_key, file_name, file_type, file_size, public_url, created_at
		FROM media_assets
		WHERE id = ANY($1)
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get media assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.MediaAsset
	for rows.Next() {
		var ma models.MediaAsset
		err := rows.Scan(&ma.ID, &ma.OrganizationID, &ma.ObjectKey, &ma.FileName, &ma.FileType,
			&ma.FileSize, &ma.PublicURL, &ma.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan media asset: %w", err)
		}
		assets = append(assets, &ma)
	}
	return assets, rows.Err()
}
