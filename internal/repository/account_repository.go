package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, tx *sql.Tx, acc *models.Account) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	// ListExpiring returns active accounts whose token expires before the given instant.
	ListExpiring(ctx context.Context, before time.Time) ([]*models.Account, error)
	SetStatus(ctx context.Context, id int64, status models.AccountStatus, reason string) error
}

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, organization_id, platform, account_id, account_name, account_type, access_token,
	token_expires_at, account_status, status_reason, created_at, updated_at`

func scanAccount(row scanner) (*models.Account, error) {
	var acc models.Account
	err := row.Scan(
		&acc.ID,
		&acc.OrganizationID,
		&acc.Platform,
		&acc.ExternalID,
		&acc.AccountName,
		&acc.AccountType,
		&acc.AccessToken,
		&acc.TokenExpiresAt,
		&acc.Status,
		&acc.StatusReason,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *accountRepository) Create(ctx context.Context, tx *sql.Tx, acc *models.Account) (int64, error) {
	query := `
		INSERT INTO social_accounts (
			organization_id,
			platform,
			account_id,
			account_name,
			account_type,
			access_token,
			token_expires_at,
			account_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	if acc.Status == "" {
		acc.Status = models.AccountStatusActive
	}

	var id int64
	err := pick(r.db, tx).QueryRowContext(ctx, query,
		acc.OrganizationID,
		acc.Platform,
		acc.ExternalID,
		acc.AccountName,
		acc.AccountType,
		acc.AccessToken,
		acc.TokenExpiresAt,
		acc.Status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}

	acc.ID = id
	return id, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM social_accounts WHERE id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return acc, nil
}

func (r *accountRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM social_accounts
		WHERE account_status = $1 AND token_expires_at < $2
		ORDER BY token_expires_at ASC`

	rows, err := r.db.QueryContext(ctx, query, models.AccountStatusActive, before)
	if err != nil {
		return nil, fmt.Errorf("list expiring accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (r *accountRepository) SetStatus(ctx context.Context, id int64, status models.AccountStatus, reason string) error {
	query := `
		UPDATE social_accounts
		SET account_status = $1,
			status_reason = $2,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`
	res, err := r.db.ExecContext(ctx, query, status, reason, id)
	if err != nil {
		return fmt.Errorf("update account %d status: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return nil
}
