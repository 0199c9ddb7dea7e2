package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshrc27/postflow/internal/lifecycle"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
)

func TestSchedulePost_QueuePath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(time.Hour))

	scheduled, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	assert.Equal(t, models.PostStatusScheduled, scheduled.Status)
	assert.Equal(t, models.JobStatusPending, scheduled.QueueStatus)
	require.NotNil(t, scheduled.JobID)

	job, err := h.jobs.GetByPostID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindQueue, job.Kind)
	assert.Equal(t, *scheduled.JobID, job.Handle)
	assert.Equal(t, h.now().Add(time.Hour), job.RunAt)

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Delayed: 1}, stats)

	_, err = h.queue.Claim(ctx, "w")
	assert.ErrorIs(t, err, queue.ErrNoJob, "not due yet")

	assert.Equal(t, []models.EventType{models.EventScheduled}, h.notifier.Types())
}

func TestSchedulePost_NativePathForPageAccounts(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	h := newHarness(t, fb)
	acc := h.account("facebook", models.AccountTypePage)
	at := h.now().Add(2 * time.Hour)
	p := h.post(acc, models.PostStatusApproved, at)

	scheduled, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	require.NotNil(t, scheduled.JobID)
	assert.Equal(t, "extfacebook_1", *scheduled.JobID)
	assert.Equal(t, "extfacebook_1", scheduled.PlatformPostID)
	assert.Equal(t, models.PostStatusScheduled, scheduled.Status)
	assert.Equal(t, at, fb.scheduled["extfacebook_1"])

	job, err := h.jobs.GetByPostID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindNative, job.Kind)

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats, "no local job for native posts")
}

func TestSchedulePost_NativeCapableClientFallsBackToQueue(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	h := newHarness(t, fb)

	t.Run("personal account", func(t *testing.T) {
		acc := h.account("facebook", models.AccountTypePersonal)
		p := h.post(acc, models.PostStatusApproved, h.now().Add(2*time.Hour))

		_, err := h.scheduler.SchedulePost(ctx, p.ID)
		require.NoError(t, err)

		job, err := h.jobs.GetByPostID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobKindQueue, job.Kind)
	})

	t.Run("too close to publish time", func(t *testing.T) {
		acc := h.account("facebook", models.AccountTypePage)
		p := h.post(acc, models.PostStatusApproved, h.now().Add(5*time.Minute))

		_, err := h.scheduler.SchedulePost(ctx, p.ID)
		require.NoError(t, err)

		job, err := h.jobs.GetByPostID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobKindQueue, job.Kind)
	})

	assert.Empty(t, fb.scheduled)
}

func TestSchedulePost_InputErrorsCreateNoJob(t *testing.T) {
	ctx := context.Background()
	invalid := &fakeClient{name: "instagram", validateErr: platform.Invalid("instagram", "caption too long")}
	h := newHarness(t, &fakeClient{name: "tiktok"}, invalid)

	inactive := h.account("tiktok", models.AccountTypeCreator)
	require.NoError(t, h.accounts.SetStatus(ctx, inactive.ID, models.AccountStatusNeedsReauth, "expired"))
	unsupported := h.account("mastodon", models.AccountTypePersonal)
	ig := h.account("instagram", models.AccountTypeBusiness)
	ok := h.account("tiktok", models.AccountTypeCreator)

	at := h.now().Add(time.Hour)
	cases := []struct {
		name string
		post *models.Post
		want error
	}{
		{"inactive account", h.post(inactive, models.PostStatusApproved, at), ErrAccountInactive},
		{"unsupported platform", h.post(unsupported, models.PostStatusApproved, at), platform.ErrUnsupportedPlatform},
		{"invalid content", h.post(ig, models.PostStatusApproved, at), platform.ErrInvalidContent},
		{"draft post", h.post(ok, models.PostStatusDraft, at), lifecycle.ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.scheduler.SchedulePost(ctx, tc.post.ID)
			assert.ErrorIs(t, err, tc.want)

			_, err = h.jobs.GetByPostID(ctx, tc.post.ID)
			assert.ErrorIs(t, err, repository.ErrNotFound)
			assert.Equal(t, tc.post.Status, h.get(tc.post.ID).Status)
		})
	}

	_, err := h.scheduler.SchedulePost(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats)
}

func TestSchedulePost_ResolvesMediaForValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)

	p := &models.Post{AccountID: acc.ID, Status: models.PostStatusApproved, ScheduledAt: h.now().Add(time.Hour), MediaIDs: []string{"m1"}}
	_, err := h.posts.Create(ctx, nil, p)
	require.NoError(t, err)

	h.resolver.On("Resolve", ctx, []string{"m1"}).
		Return([]platform.Media{{ID: "m1", URL: "https://cdn/m1.mp4", Kind: platform.MediaKindVideo}}, nil).Once()

	_, err = h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)
	h.resolver.AssertExpectations(t)
}

func TestSchedulePost_TwiceKeepsOneJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(time.Hour))

	first, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)
	second, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, *first.JobID, *second.JobID)

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Delayed: 1}, stats)
}

func TestSchedulePost_PastDueFiresImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(-10*time.Second))

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	job, err := h.queue.Claim(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, p.ID, job.Payload.PostID)
}

func TestReschedulePost_ReplacesTheQueuedJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(time.Minute))

	first, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	newTime := h.now().Add(3 * time.Hour)
	moved, err := h.scheduler.ReschedulePost(ctx, p.ID, newTime)
	require.NoError(t, err)

	assert.Equal(t, newTime, moved.ScheduledAt)
	assert.Equal(t, models.PostStatusScheduled, moved.Status)
	assert.NotEqual(t, *first.JobID, *moved.JobID)

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Delayed: 1}, stats, "exactly one job")

	h.clock.Advance(time.Minute)
	_, err = h.queue.Claim(ctx, "w")
	assert.ErrorIs(t, err, queue.ErrNoJob, "the old delay no longer fires")

	h.clock.Advance(3 * time.Hour)
	job, err := h.queue.Claim(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, *moved.JobID, job.ID)

	assert.Contains(t, h.notifier.Types(), models.EventRescheduled)
}

func TestReschedulePost_NativeDeleteRefused(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	h := newHarness(t, fb)
	acc := h.account("facebook", models.AccountTypePage)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(2*time.Hour))

	scheduled, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	fb.deleteOK = false
	_, err = h.scheduler.ReschedulePost(ctx, p.ID, h.now().Add(5*time.Hour))
	assert.ErrorIs(t, err, ErrRescheduleConflict)

	assert.Len(t, fb.scheduled, 1, "no duplicate remote schedule")
	after := h.get(p.ID)
	assert.Equal(t, *scheduled.JobID, *after.JobID)
	assert.Equal(t, scheduled.ScheduledAt, after.ScheduledAt)
}

func TestReschedulePost_NativeToNative(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	h := newHarness(t, fb)
	acc := h.account("facebook", models.AccountTypePage)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(2*time.Hour))

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	moved, err := h.scheduler.ReschedulePost(ctx, p.ID, h.now().Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "extfacebook_2", *moved.JobID)
	assert.Len(t, fb.scheduled, 1)
}

func TestReschedulePost_NativeFailureFallsBackToQueue(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	h := newHarness(t, fb)
	acc := h.account("facebook", models.AccountTypePage)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(time.Hour))

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	fb.scheduleErr = platform.NewError("facebook", platform.KindTransient, "graph down")
	moved, err := h.scheduler.ReschedulePost(ctx, p.ID, h.now().Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, moved.Status)
	assert.Empty(t, fb.scheduled, "old native schedule withdrawn")

	job, err := h.jobs.GetByPostID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindQueue, job.Kind)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, *moved.JobID, job.Handle)

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Delayed: 1}, stats)

	h.clock.Advance(3 * time.Hour)
	_, err = h.deliver()
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, h.get(p.ID).Status)
	assert.Len(t, fb.Calls(), 1)
}

func TestSchedulePost_NativeFailureWithoutLiveJobCreatesNothing(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	fb.scheduleErr = platform.NewError("facebook", platform.KindTransient, "graph down")
	h := newHarness(t, fb)
	acc := h.account("facebook", models.AccountTypePage)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(time.Hour))

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	assert.ErrorIs(t, err, platform.ErrTransient)

	assert.Equal(t, models.PostStatusApproved, h.get(p.ID).Status)
	_, err = h.jobs.GetByPostID(ctx, p.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReschedulePost_InvalidContentKeepsCurrentJob(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	h := newHarness(t, fb)
	acc := h.account("facebook", models.AccountTypePage)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(time.Hour))

	scheduled, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	fb.validateErr = platform.Invalid("facebook", "message too long")
	_, err = h.scheduler.ReschedulePost(ctx, p.ID, h.now().Add(3*time.Hour))
	assert.ErrorIs(t, err, platform.ErrInvalidContent)

	assert.Len(t, fb.scheduled, 1)
	after := h.get(p.ID)
	assert.Equal(t, *scheduled.JobID, *after.JobID)
	job, err := h.jobs.GetByPostID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindNative, job.Kind)
	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestReschedulePost_WhileProcessingConflicts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusApproved, h.now())

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)
	_, err = h.queue.Claim(ctx, "w")
	require.NoError(t, err)

	_, err = h.scheduler.ReschedulePost(ctx, p.ID, h.now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrRescheduleConflict)
	assert.ErrorIs(t, err, queue.ErrJobActive)
}

func TestCancelScheduledPost_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(time.Hour))

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, h.scheduler.CancelScheduledPost(ctx, p.ID))
	require.NoError(t, h.scheduler.CancelScheduledPost(ctx, p.ID))

	canceled := h.get(p.ID)
	assert.Equal(t, models.PostStatusCanceled, canceled.Status)
	assert.Nil(t, canceled.JobID)

	job, err := h.jobs.GetByPostID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)

	h.clock.Advance(2 * time.Hour)
	_, err = h.queue.Claim(ctx, "w")
	assert.ErrorIs(t, err, queue.ErrNoJob)

	assert.Equal(t, []models.EventType{models.EventScheduled, models.EventCanceled}, h.notifier.Types())
}

func TestCancelScheduledPost_StopsPendingRetry(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{name: "tiktok", publish: func(context.Context, platform.Target, *platform.Request) (*platform.Result, error) {
		return nil, platform.NewError("tiktok", platform.KindTransient, "service busy")
	}}
	h := newHarness(t, client)
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusApproved, h.now())

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)
	_, err = h.deliver()
	var re *queue.RetryError
	require.ErrorAs(t, err, &re)
	require.Equal(t, models.JobStatusRetrying, h.get(p.ID).QueueStatus)

	require.NoError(t, h.scheduler.CancelScheduledPost(ctx, p.ID))
	require.NoError(t, h.scheduler.CancelScheduledPost(ctx, p.ID))

	canceled := h.get(p.ID)
	assert.Equal(t, models.PostStatusCanceled, canceled.Status)
	assert.Equal(t, models.JobStatusCancelled, canceled.QueueStatus)

	h.clock.Advance(re.Delay)
	_, err = h.queue.Claim(ctx, "w")
	assert.ErrorIs(t, err, queue.ErrNoJob, "the retry no longer fires")
	assert.Len(t, client.Calls(), 1)
}

func TestCancelScheduledPost_ExhaustedFailureIsFinal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusFailed, h.now())

	err := h.scheduler.CancelScheduledPost(ctx, p.ID)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	assert.Equal(t, models.PostStatusFailed, h.get(p.ID).Status)
}

func TestCancelScheduledPost_PublishingConflicts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusPublishing, h.now())

	err := h.scheduler.CancelScheduledPost(ctx, p.ID)
	assert.ErrorIs(t, err, lifecycle.ErrConflict)
	assert.Equal(t, models.PostStatusPublishing, h.get(p.ID).Status)
}

func TestCancelScheduledPost_RemoteFailureStillCancelsLocally(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	h := newHarness(t, fb)
	acc := h.account("facebook", models.AccountTypePage)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(2*time.Hour))

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	fb.deleteErr = errors.New("graph unavailable")
	require.NoError(t, h.scheduler.CancelScheduledPost(ctx, p.ID))
	assert.Equal(t, models.PostStatusCanceled, h.get(p.ID).Status)
}

func TestPublishImmediately(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	h := newHarness(t, fb)
	acc := h.account("facebook", models.AccountTypePage)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(24*time.Hour))

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, fb.scheduled, 1)

	now, err := h.scheduler.PublishImmediately(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, now.Status)
	assert.Empty(t, fb.scheduled, "native schedule withdrawn")

	_, err = h.deliver()
	require.NoError(t, err)

	published := h.get(p.ID)
	assert.Equal(t, models.PostStatusPublished, published.Status)
	assert.Equal(t, "remote-1", published.PlatformPostID)
}

func TestQueueStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)

	for _, offset := range []time.Duration{-time.Second, time.Hour} {
		p := h.post(acc, models.PostStatusApproved, h.now().Add(offset))
		_, err := h.scheduler.SchedulePost(ctx, p.ID)
		require.NoError(t, err)
	}

	pool := queue.NewPool(h.queue, h.worker.Handle, queue.PoolConfig{Concurrency: 2}, h.deps.Log)
	svc := NewSchedulerService(h.deps, WithCounters(pool))

	stats, err := svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 1, stats.Delayed)
	assert.Len(t, stats.Workers, 2)
	assert.Zero(t, stats.Totals.Processed)
}

func TestReconcile_RequeuesMissingJobs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)

	// scheduled before a restart that lost the queue
	p := h.post(acc, models.PostStatusScheduled, h.now().Add(-time.Minute))

	report, err := h.scheduler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)

	after := h.get(p.ID)
	require.NotNil(t, after.JobID)

	_, err = h.deliver()
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, h.get(p.ID).Status)

	report, err = h.scheduler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Requeued)
}

func TestReconcile_ResumesPublishInterruptedByRestart(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{name: "tiktok"}
	h := newHarness(t, client)
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusApproved, h.now())

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)
	job, err := h.queue.Claim(ctx, "w")
	require.NoError(t, err)
	_, err = h.worker.claim(ctx, job)
	require.NoError(t, err)
	require.Equal(t, models.PostStatusPublishing, h.get(p.ID).Status)

	report, err := h.scheduler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Requeued, "the delivery is still live")

	h.restart()

	report, err = h.scheduler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)

	status, err := h.queue.Status(ctx, p.JobKey())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status)

	delivered, err := h.deliver()
	require.NoError(t, err)
	assert.Equal(t, 1, delivered.Attempt)

	published := h.get(p.ID)
	assert.Equal(t, models.PostStatusPublished, published.Status)
	assert.Equal(t, "remote-1", published.PlatformPostID)
	assert.Len(t, client.Calls(), 1)

	report, err = h.scheduler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Requeued)
}

func TestReconcile_RequeuesPostWithWithdrawnNativeSchedule(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	h := newHarness(t, fb)
	acc := h.account("facebook", models.AccountTypePage)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(time.Hour))

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)
	// withdrawn remotely with the replacement never created
	require.NoError(t, h.jobs.SetStatus(ctx, p.ID, models.JobStatusCancelled, ""))

	report, err := h.scheduler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)
	assert.Zero(t, report.Confirmed)

	job, err := h.jobs.GetByPostID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindQueue, job.Kind)
	assert.Equal(t, models.JobStatusPending, job.Status)

	h.clock.Advance(time.Hour)
	_, err = h.deliver()
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, h.get(p.ID).Status)
}

func TestReconcile_ConfirmsDueNativePosts(t *testing.T) {
	ctx := context.Background()
	fb := newFakeNative("facebook")
	h := newHarness(t, fb)
	acc := h.account("facebook", models.AccountTypePage)
	p := h.post(acc, models.PostStatusApproved, h.now().Add(time.Hour))

	scheduled, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)

	report, err := h.scheduler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Confirmed, "not due yet")

	h.clock.Advance(time.Hour + time.Minute)
	fb.isPublished = false
	report, err = h.scheduler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Confirmed, "platform has not fired it")

	fb.isPublished = true
	report, err = h.scheduler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Confirmed)

	published := h.get(p.ID)
	assert.Equal(t, models.PostStatusPublished, published.Status)
	assert.Equal(t, *scheduled.JobID, published.PlatformPostID)
	assert.Contains(t, h.notifier.Types(), models.EventPublished)
}

func TestReconcile_RecoversStalledClaims(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeClient{name: "tiktok"})
	acc := h.account("tiktok", models.AccountTypeCreator)
	p := h.post(acc, models.PostStatusApproved, h.now())

	_, err := h.scheduler.SchedulePost(ctx, p.ID)
	require.NoError(t, err)
	_, err = h.queue.Claim(ctx, "crashed-worker")
	require.NoError(t, err)

	h.clock.Advance(2 * time.Second)
	report, err := h.scheduler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)

	job, err := h.deliver()
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, models.PostStatusPublished, h.get(p.ID).Status)
}
