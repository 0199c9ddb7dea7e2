package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
)

const (
	MaxApiKeys   = 5
	apiKeyPrefix = "pf_"
)

var (
	ErrApiKeyLimit   = fmt.Errorf("only %d API keys can be created", MaxApiKeys)
	ErrApiKeyInvalid = errors.New("invalid API key")
)

type ApiKeyService interface {
	// Create returns the plaintext key. It is not stored and cannot be shown again.
	Create(ctx context.Context, name string) (string, *models.ApiKey, error)
	Authenticate(ctx context.Context, key string) (*models.ApiKey, error)
	List(ctx context.Context) ([]*models.ApiKey, error)
	Remove(ctx context.Context, id int64) error
}

type apiKeyService struct {
	k repository.ApiKeyRepository
}

func NewApiKeyService(k repository.ApiKeyRepository) ApiKeyService {
	return &apiKeyService{
		k: k,
	}
}

func (s *apiKeyService) Create(ctx context.Context, name string) (string, *models.ApiKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, errors.New("API key name is required")
	}

	keys, err := s.k.List(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(keys) >= MaxApiKeys {
		return "", nil, ErrApiKeyLimit
	}

	random, err := utils.GenerateRandomKey(24)
	if err != nil {
		return "", nil, fmt.Errorf("generate API key: %w", err)
	}
	key := apiKeyPrefix + random

	apiKey := &models.ApiKey{
		Name:    name,
		Prefix:  key[:len(apiKeyPrefix)+6],
		KeyHash: hashKey(key),
	}
	if _, err := s.k.Create(ctx, apiKey); err != nil {
		return "", nil, fmt.Errorf("save API key: %w", err)
	}
	return key, apiKey, nil
}

func (s *apiKeyService) Authenticate(ctx context.Context, key string) (*models.ApiKey, error) {
	if !strings.HasPrefix(key, apiKeyPrefix) {
		return nil, ErrApiKeyInvalid
	}
	apiKey, err := s.k.GetByHash(ctx, hashKey(key))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrApiKeyInvalid
		}
		return nil, err
	}
	return apiKey, nil
}

func (s *apiKeyService) List(ctx context.Context) ([]*models.ApiKey, error) {
	return s.k.List(ctx)
}

func (s *apiKeyService) Remove(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("API key id is not valid")
	}
	return s.k.Remove(ctx, id)
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
