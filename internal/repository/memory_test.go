package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshrc27/postflow/internal/lifecycle"
	"github.com/maheshrc27/postflow/internal/models"
)

func TestMemoryPostRepository_TransitionBumpsVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPostRepository()

	id, err := repo.Create(ctx, nil, &models.Post{Status: models.PostStatusApproved, ScheduledAt: time.Now()})
	require.NoError(t, err)

	updated, err := repo.Transition(ctx, id, func(p *models.Post) error {
		return lifecycle.Apply(p, models.PostStatusScheduled)
	})
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, updated.Status)
	assert.Equal(t, int64(1), updated.Version)
}

func TestMemoryPostRepository_RejectedTransitionLeavesRow(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPostRepository()

	id, err := repo.Create(ctx, nil, &models.Post{Status: models.PostStatusPublished})
	require.NoError(t, err)

	_, err = repo.Transition(ctx, id, func(p *models.Post) error {
		p.Body = "mutated"
		return lifecycle.Apply(p, models.PostStatusScheduled)
	})
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "", got.Body)
	assert.Equal(t, int64(0), got.Version)
}

func TestMemoryPostRepository_ConcurrentTransitionsSerialize(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPostRepository()

	id, err := repo.Create(ctx, nil, &models.Post{Status: models.PostStatusScheduled})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Transition(ctx, id, func(p *models.Post) error {
				p.RetryCount++
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 50, got.RetryCount)
	assert.Equal(t, int64(50), got.Version)
}

func TestMemoryPostRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPostRepository()

	id, err := repo.Create(ctx, nil, &models.Post{MediaIDs: []string{"a"}})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	got.MediaIDs[0] = "changed"

	again, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.MediaIDs)
}

func TestMemoryPostRepository_NotFound(t *testing.T) {
	repo := NewMemoryPostRepository()

	_, err := repo.GetByID(context.Background(), 42)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = repo.Transition(context.Background(), 42, func(*models.Post) error { return nil })
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryJobRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepository()

	require.NoError(t, repo.Upsert(ctx, &models.ScheduledJob{PostID: 1, Handle: "h1", Kind: models.JobKindQueue, Status: models.JobStatusPending}))
	require.NoError(t, repo.MarkAttempt(ctx, 1))
	require.NoError(t, repo.SaveCheckpoint(ctx, 1, models.Checkpoint{Step: models.StepContainerCreated, ContainerID: "c"}))

	job, err := repo.GetByPostID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "c", job.Checkpoint.ContainerID)

	// Re-upsert resets the record for the new job.
	require.NoError(t, repo.Upsert(ctx, &models.ScheduledJob{PostID: 1, Handle: "h2", Kind: models.JobKindQueue, Status: models.JobStatusPending}))
	job, err = repo.GetByPostID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "h2", job.Handle)
	assert.Zero(t, job.Attempts)
	assert.Empty(t, job.Checkpoint.Step)

	assert.ErrorIs(t, repo.SetStatus(ctx, 99, models.JobStatusFailed, ""), ErrNotFound)
}

func TestMemoryAccountRepository_ListExpiring(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	now := time.Now()

	soon, _ := repo.Create(ctx, nil, &models.Account{Platform: "facebook", TokenExpiresAt: now.Add(time.Hour)})
	_, _ = repo.Create(ctx, nil, &models.Account{Platform: "tiktok", TokenExpiresAt: now.Add(30 * 24 * time.Hour)})
	flagged, _ := repo.Create(ctx, nil, &models.Account{Platform: "youtube", TokenExpiresAt: now.Add(time.Hour)})
	require.NoError(t, repo.SetStatus(ctx, flagged, models.AccountStatusNeedsReauth, "expired"))

	accs, err := repo.ListExpiring(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, accs, 1)
	assert.Equal(t, soon, accs[0].ID)
}
