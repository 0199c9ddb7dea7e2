package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/credentials"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/repository"
)

const (
	DefaultCheckWindow      = 30 * time.Minute
	DefaultCheckConcurrency = 10
)

// CredentialCheckJob validates the tokens of accounts that are about to
// expire and flags the ones a platform no longer accepts.
type CredentialCheckJob struct {
	accounts    repository.AccountRepository
	registry    *platform.Registry
	tokens      credentials.Provider
	disabler    credentials.Disabler
	log         *zap.Logger
	window      time.Duration
	concurrency int
	now         func() time.Time
}

func NewCredentialCheckJob(
	accounts repository.AccountRepository,
	registry *platform.Registry,
	tokens credentials.Provider,
	disabler credentials.Disabler,
	log *zap.Logger) *CredentialCheckJob {
	return &CredentialCheckJob{
		accounts:    accounts,
		registry:    registry,
		tokens:      tokens,
		disabler:    disabler,
		log:         log.Named("credential_check"),
		window:      DefaultCheckWindow,
		concurrency: DefaultCheckConcurrency,
		now:         time.Now,
	}
}

func (c *CredentialCheckJob) CheckCredentials() {
	ctx := context.Background()

	accounts, err := c.accounts.ListExpiring(ctx, c.now().Add(c.window))
	if err != nil {
		c.log.Error("Failed to list expiring accounts", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, c.concurrency)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.Account) {
			defer wg.Done()
			defer func() { <-semaphore }()
			c.check(ctx, acc)
		}(acc)
	}
	wg.Wait()
}

func (c *CredentialCheckJob) check(ctx context.Context, acc *models.Account) {
	log := c.log.With(zap.Int64("account_id", acc.ID), zap.String("platform", acc.Platform))

	client, err := c.registry.ForAccount(acc)
	if err != nil {
		log.Debug("No client for account platform")
		return
	}

	token, err := c.tokens.UsableToken(ctx, acc.ID)
	if err != nil {
		if errors.Is(err, credentials.ErrCredentialInvalid) {
			c.flag(ctx, log, acc, err.Error())
			return
		}
		log.Warn("Unable to read account token", zap.Error(err))
		return
	}

	ok, err := client.ValidateCredentials(ctx, platform.Target{Account: acc, Token: token})
	if err != nil {
		log.Warn("Unable to validate credentials", zap.Error(err))
		return
	}
	if !ok {
		c.flag(ctx, log, acc, "platform rejected access token")
	}
}

func (c *CredentialCheckJob) flag(ctx context.Context, log *zap.Logger, acc *models.Account, reason string) {
	if err := c.disabler.MarkNeedsReauth(ctx, acc.ID, reason); err != nil {
		log.Error("Failed to flag account", zap.Error(err))
		return
	}
	log.Warn("Account needs reauthorization", zap.String("reason", reason))
}
