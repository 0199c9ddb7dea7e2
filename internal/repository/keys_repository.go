package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
)

type ApiKeyRepository interface {
	GetByHash(ctx context.Context, keyHash string) (*models.ApiKey, error)
	List(ctx context.Context) ([]*models.ApiKey, error)
	Create(ctx context.Context, apiKey *models.ApiKey) (int64, error)
	Remove(ctx context.Context, id int64) error
}

type apiKeyRepository struct {
	db *sql.DB
}

func NewApiKeyRepository(db *sql.DB) ApiKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) GetByHash(ctx context.Context, keyHash string) (*models.ApiKey, error) {
	query := "SELECT id, name, prefix, key_hash, created_at FROM api_keys WHERE key_hash = $1"

	var k models.ApiKey
	err := r.db.QueryRowContext(ctx, query, keyHash).Scan(&k.ID, &k.Name, &k.Prefix, &k.KeyHash, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key: %w", ErrNotFound)
		}
		return nil, err
	}
	return &k, nil
}

func (r *apiKeyRepository) List(ctx context.Context) ([]*models.ApiKey, error) {
	query := `SELECT id, name, prefix, key_hash, created_at FROM api_keys ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apiKeys []*models.ApiKey
	for rows.Next() {
		var k models.ApiKey
		if err := rows.Scan(&k.ID, &k.Name, &k.Prefix, &k.KeyHash, &k.CreatedAt); err != nil {
			return nil, err
		}
		apiKeys = append(apiKeys, &k)
	}
	return apiKeys, rows.Err()
}

func (r *apiKeyRepository) Create(ctx context.Context, apiKey *models.ApiKey) (int64, error) {
	query := "INSERT INTO api_keys (name, prefix, key_hash) VALUES ($1, $2, $3) RETURNING id, created_at"

	err := r.db.QueryRowContext(ctx, query, apiKey.Name, apiKey.Prefix, apiKey.KeyHash).Scan(&apiKey.ID, &apiKey.CreatedAt)
	if err != nil {
		return 0, err
	}
	return apiKey.ID, nil
}

func (r *apiKeyRepository) Remove(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("api key %d: %w", id, ErrNotFound)
	}
	return nil
}
