// Package credentials hands out usable access tokens for destination
// accounts. Acquiring and refreshing tokens happens elsewhere.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// ErrCredentialInvalid means the account cannot be published to until it is reconnected.
var ErrCredentialInvalid = errors.New("credential invalid")

type Provider interface {
	UsableToken(ctx context.Context, accountID int64) (string, error)
}

// Disabler flags an account whose credential a platform rejected.
type Disabler interface {
	MarkNeedsReauth(ctx context.Context, accountID int64, reason string) error
}

// Store reads AES-GCM sealed tokens from the account repository.
type Store struct {
	accounts repository.AccountRepository
	key      []byte
	// skew treats tokens expiring within this window as already expired.
	skew time.Duration
	now  func() time.Time
}

func NewStore(accounts repository.AccountRepository, encryptionKey string, skew time.Duration) *Store {
	return &Store{
		accounts: accounts,
		key:      []byte(encryptionKey),
		skew:     skew,
		now:      time.Now,
	}
}

func (s *Store) UsableToken(ctx context.Context, accountID int64) (string, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("account %d: %w", accountID, ErrCredentialInvalid)
		}
		return "", err
	}

	if !acc.IsActive() {
		return "", fmt.Errorf("account %d is %s: %w", accountID, acc.Status, ErrCredentialInvalid)
	}
	if !acc.TokenExpiresAt.IsZero() && acc.TokenExpiresAt.Before(s.now().Add(s.skew)) {
		return "", fmt.Errorf("account %d token expired at %s: %w", accountID, acc.TokenExpiresAt.Format(time.RFC3339), ErrCredentialInvalid)
	}

	token, err := utils.Decrypt(acc.AccessToken, s.key)
	if err != nil {
		return "", fmt.Errorf("account %d token unreadable: %v: %w", accountID, err, ErrCredentialInvalid)
	}
	return token, nil
}

func (s *Store) MarkNeedsReauth(ctx context.Context, accountID int64, reason string) error {
	return s.accounts.SetStatus(ctx, accountID, models.AccountStatusNeedsReauth, reason)
}

// Seal encrypts a plaintext token for storage on an account.
func (s *Store) Seal(token string) (string, error) {
	return utils.Encrypt([]byte(token), s.key)
}
