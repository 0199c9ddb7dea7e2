package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/maheshrc27/postflow/internal/credentials"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
)

const testKey = "0123456789abcdef0123456789abcdef"

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context) (*service.ReconcileReport, error) {
	args := m.Called(ctx)
	report, _ := args.Get(0).(*service.ReconcileReport)
	return report, args.Error(1)
}

func TestEvery(t *testing.T) {
	c := cron.New()
	require.NoError(t, Every(c, time.Minute, func() {}))
	assert.Len(t, c.Entries(), 1)

	assert.Error(t, Every(c, 0, func() {}))
}

func TestReconcileJob_Run(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := &mockReconciler{}
	r.On("Reconcile", mock.Anything).Return(&service.ReconcileReport{Requeued: 2, Recovered: 1}, nil).Once()

	NewReconcileJob(r, zap.New(core)).Run()

	r.AssertExpectations(t)
	entries := logs.FilterMessage("Reconcile finished").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["requeued"])
}

func TestReconcileJob_RunLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := &mockReconciler{}
	r.On("Reconcile", mock.Anything).Return(nil, errors.New("db down")).Once()

	NewReconcileJob(r, zap.New(core)).Run()

	assert.Equal(t, 1, logs.FilterMessage("Reconcile failed").Len())
}

func TestReconcileJob_SkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	r := &mockReconciler{}
	r.On("Reconcile", mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(&service.ReconcileReport{}, nil).Once()

	j := NewReconcileJob(r, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		j.Run()
	}()
	<-started

	j.Run()
	close(release)
	wg.Wait()

	r.AssertNumberOfCalls(t, "Reconcile", 1)
}

type checkClient struct {
	name  string
	valid map[string]bool
	err   error
}

func (c *checkClient) Platform() string { return c.name }
func (c *checkClient) Validate(*platform.Request) error { return nil }

func (c *checkClient) Publish(context.Context, platform.Target, *platform.Request) (*platform.Result, error) {
	return nil, errors.New("not used")
}

func (c *checkClient) ValidateCredentials(_ context.Context, target platform.Target) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.valid[target.Account.ExternalID], nil
}

func TestCredentialCheckJob(t *testing.T) {
	ctx := context.Background()
	accounts := repository.NewMemoryAccountRepository()
	store := credentials.NewStore(accounts, testKey, time.Minute)

	add := func(external, platformName string, expires time.Time) int64 {
		sealed, err := store.Seal("token-" + external)
		require.NoError(t, err)
		id, err := accounts.Create(ctx, nil, &models.Account{
			Platform:       platformName,
			ExternalID:     external,
			AccessToken:    sealed,
			TokenExpiresAt: expires,
		})
		require.NoError(t, err)
		return id
	}

	now := time.Now()
	good := add("good", "youtube", now.Add(10*time.Minute))
	revoked := add("revoked", "youtube", now.Add(10*time.Minute))
	expired := add("expired", "youtube", now.Add(-time.Hour))
	later := add("later", "youtube", now.Add(48*time.Hour))
	unknown := add("other", "mastodon", now.Add(10*time.Minute))

	registry, err := platform.NewRegistry(&checkClient{name: "youtube", valid: map[string]bool{"good": true, "later": true}})
	require.NoError(t, err)

	NewCredentialCheckJob(accounts, registry, store, store, zap.NewNop()).CheckCredentials()

	status := func(id int64) models.AccountStatus {
		acc, err := accounts.GetByID(ctx, id)
		require.NoError(t, err)
		return acc.Status
	}
	assert.Equal(t, models.AccountStatusActive, status(good))
	assert.Equal(t, models.AccountStatusNeedsReauth, status(revoked))
	assert.Equal(t, models.AccountStatusNeedsReauth, status(expired))
	assert.Equal(t, models.AccountStatusActive, status(later), "outside the check window")
	assert.Equal(t, models.AccountStatusActive, status(unknown))
}

func TestCredentialCheckJob_ValidationErrorKeepsAccount(t *testing.T) {
	ctx := context.Background()
	accounts := repository.NewMemoryAccountRepository()
	store := credentials.NewStore(accounts, testKey, time.Minute)

	sealed, err := store.Seal("token")
	require.NoError(t, err)
	id, err := accounts.Create(ctx, nil, &models.Account{Platform: "tiktok", AccessToken: sealed, TokenExpiresAt: time.Now().Add(5 * time.Minute)})
	require.NoError(t, err)

	registry, err := platform.NewRegistry(&checkClient{name: "tiktok", err: errors.New("timeout")})
	require.NoError(t, err)

	NewCredentialCheckJob(accounts, registry, store, store, zap.NewNop()).CheckCredentials()

	acc, err := accounts.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusActive, acc.Status)
}
