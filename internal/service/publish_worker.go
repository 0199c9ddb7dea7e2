package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/credentials"
	"github.com/maheshrc27/postflow/internal/lifecycle"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/notify"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/ratelimit"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/retry"
)

const (
	DefaultRateLimitDelay = 5 * time.Minute
	publishAction         = "publish"
)

var (
	errNotDue      = errors.New("post is not due for publishing")
	errRateLimited = errors.New("local rate limit reached")
)

type WorkerOption func(*PublishWorker)

func WithRateLimiter(l ratelimit.Limiter, delay time.Duration) WorkerOption {
	return func(w *PublishWorker) {
		w.limiter = l
		if delay > 0 {
			w.rateLimitDelay = delay
		}
	}
}

// WithMaxDeliveries matches the queue's delivery budget so a post whose job is
// about to be dropped is failed instead of left PUBLISHING.
func WithMaxDeliveries(n int) WorkerOption {
	return func(w *PublishWorker) {
		if n > 0 {
			w.maxDeliveries = n
		}
	}
}

// WithDisabler flags accounts whose credentials the platform rejected.
func WithDisabler(d credentials.Disabler) WorkerOption {
	return func(w *PublishWorker) { w.disabler = d }
}

// PublishWorker carries out one delivery of a publish job.
type PublishWorker struct {
	Deps
	classifier     *retry.Classifier
	limiter        ratelimit.Limiter
	disabler       credentials.Disabler
	rateLimitDelay time.Duration
	maxDeliveries  int
}

func NewPublishWorker(deps Deps, classifier *retry.Classifier, opts ...WorkerOption) *PublishWorker {
	w := &PublishWorker{
		Deps:           deps,
		classifier:     classifier,
		limiter:        ratelimit.Unlimited{},
		rateLimitDelay: DefaultRateLimitDelay,
		maxDeliveries:  queue.DefaultMaxDeliveries,
	}
	if w.Notifier == nil {
		w.Notifier = notify.Discard{}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle is a queue.Handler.
func (w *PublishWorker) Handle(ctx context.Context, job *queue.Job) error {
	err := w.handle(ctx, job)

	var re *queue.RetryError
	if err == nil || errors.As(err, &re) {
		return err
	}
	if job.Attempt >= w.maxDeliveries || errors.Is(err, queue.ErrSkipRetry) {
		w.abandon(context.WithoutCancel(ctx), job, err)
	}
	return err
}

func (w *PublishWorker) handle(ctx context.Context, job *queue.Job) error {
	postID := job.Payload.PostID
	log := w.Log.With(zap.Int64("post_id", postID), zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))

	post, err := w.claim(ctx, job)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			log.Warn("Post no longer exists, dropping job")
			return nil
		case errors.Is(err, errNotDue):
			log.Info("Post not due, dropping job", zap.Error(err))
			return nil
		}
		return err
	}

	rec, err := w.jobRecord(ctx, post)
	if err != nil {
		return err
	}

	// bookkeeping after the remote call must survive cancellation of the delivery
	settle := context.WithoutCancel(ctx)

	account, err := w.Accounts.GetByID(ctx, post.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return w.fail(settle, log, post, "", fmt.Errorf("account %d: %w", post.AccountID, credentials.ErrCredentialInvalid))
		}
		return err
	}
	log = log.With(zap.String("platform", account.Platform))

	client, err := w.Registry.ForAccount(account)
	if err != nil {
		return w.fail(settle, log, post, account.Platform, err)
	}

	allowed, err := w.limiter.Allow(ctx, account.Platform, account.ID, publishAction)
	if err != nil {
		log.Warn("Rate limiter unavailable, proceeding", zap.Error(err))
		allowed = true
	}
	if !allowed {
		return w.deferPublish(settle, log, post, account.Platform)
	}

	token, err := w.Credentials.UsableToken(ctx, account.ID)
	if err != nil {
		if errors.Is(err, credentials.ErrCredentialInvalid) {
			w.flagAccount(settle, log, account, err)
		}
		return w.fail(settle, log, post, account.Platform, err)
	}

	req := &platform.Request{
		PostID:     post.ID,
		Body:       post.Body,
		Options:    post.Options,
		Checkpoint: rec.Checkpoint,
		OnCheckpoint: func(ctx context.Context, cp models.Checkpoint) error {
			return w.Jobs.SaveCheckpoint(context.WithoutCancel(ctx), post.ID, cp)
		},
	}
	if len(post.MediaIDs) > 0 {
		items, err := w.Media.Resolve(ctx, post.MediaIDs)
		if err != nil {
			return w.fail(settle, log, post, account.Platform, err)
		}
		req.Media = items
	}

	if rec.Checkpoint.Step != "" {
		log.Info("Resuming publish from checkpoint", zap.String("step", string(rec.Checkpoint.Step)))
	}

	result, err := client.Publish(ctx, platform.Target{Account: account, Token: token}, req)
	if err != nil {
		if errors.Is(err, platform.ErrAuth) {
			w.flagAccount(settle, log, account, err)
		}
		return w.fail(settle, log, post, account.Platform, err)
	}
	return w.succeed(settle, log, post, account.Platform, result)
}

// claim moves the post to PUBLISHING. A post left PUBLISHING by an earlier
// delivery of the same job, or re-enqueued after a crash with its job record
// still PROCESSING, is resumed.
func (w *PublishWorker) claim(ctx context.Context, job *queue.Job) (*models.Post, error) {
	resumable := job.Attempt > 1
	if !resumable {
		rec, err := w.Jobs.GetByPostID(ctx, job.Payload.PostID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		resumable = rec != nil && rec.Status == models.JobStatusProcessing
	}

	return w.Posts.Transition(ctx, job.Payload.PostID, func(p *models.Post) error {
		switch {
		case p.Status == models.PostStatusScheduled:
		case p.Status == models.PostStatusFailed && p.QueueStatus == models.JobStatusRetrying:
			if err := lifecycle.Apply(p, models.PostStatusScheduled); err != nil {
				return err
			}
		case p.Status == models.PostStatusPublishing && resumable:
			p.QueueStatus = models.JobStatusProcessing
			return nil
		default:
			return fmt.Errorf("%w: status %s", errNotDue, p.Status)
		}

		if err := lifecycle.Apply(p, models.PostStatusPublishing); err != nil {
			return err
		}
		p.QueueStatus = models.JobStatusProcessing
		return nil
	})
}

// jobRecord counts the attempt and returns the job record with its checkpoint.
func (w *PublishWorker) jobRecord(ctx context.Context, post *models.Post) (*models.ScheduledJob, error) {
	err := w.Jobs.MarkAttempt(ctx, post.ID)
	if errors.Is(err, repository.ErrNotFound) {
		err = w.Jobs.Upsert(ctx, &models.ScheduledJob{
			PostID: post.ID,
			Handle: post.JobKey(),
			Kind:   models.JobKindQueue,
			Status: models.JobStatusPending,
			RunAt:  post.ScheduledAt,
		})
		if err == nil {
			err = w.Jobs.MarkAttempt(ctx, post.ID)
		}
	}
	if err != nil {
		return nil, err
	}
	return w.Jobs.GetByPostID(ctx, post.ID)
}

func (w *PublishWorker) succeed(ctx context.Context, log *zap.Logger, post *models.Post, platformName string, result *platform.Result) error {
	updated, err := w.Posts.Transition(ctx, post.ID, func(p *models.Post) error {
		if err := lifecycle.Apply(p, models.PostStatusPublished); err != nil {
			return err
		}
		p.PlatformPostID = result.PlatformPostID
		p.ErrorMessage = ""
		p.RetryCount = 0
		p.QueueStatus = models.JobStatusCompleted
		return nil
	})
	if err != nil {
		return err
	}

	if err := w.Jobs.SetStatus(ctx, post.ID, models.JobStatusCompleted, ""); err != nil {
		log.Error("Failed to complete job record", zap.Error(err))
	}

	log.Info("Post published",
		zap.String("platform_post_id", result.PlatformPostID),
		zap.String("url", result.URL))
	w.Notifier.Notify(notify.NewEvent(models.EventPublished, updated, platformName))
	return nil
}

// fail records a failed attempt and decides between a retry and a terminal failure.
func (w *PublishWorker) fail(ctx context.Context, log *zap.Logger, post *models.Post, platformName string, cause error) error {
	decision := w.classifier.Classify(cause, post.RetryCount)
	retrying := decision.Retryable && post.RetryCount < post.EffectiveMaxRetries()

	updated, err := w.Posts.Transition(ctx, post.ID, func(p *models.Post) error {
		if err := lifecycle.Apply(p, models.PostStatusFailed); err != nil {
			return err
		}
		p.SetError(cause.Error())
		if retrying {
			p.RetryCount++
			p.QueueStatus = models.JobStatusRetrying
		} else {
			p.QueueStatus = models.JobStatusFailed
		}
		return nil
	})
	if err != nil {
		return err
	}

	jobStatus := models.JobStatusFailed
	if retrying {
		jobStatus = models.JobStatusRetrying
	}
	if err := w.Jobs.SetStatus(ctx, post.ID, jobStatus, updated.ErrorMessage); err != nil {
		log.Error("Failed to update job record", zap.Error(err))
	}

	if retrying {
		log.Warn("Publish attempt failed, retrying",
			zap.String("reason", decision.Reason),
			zap.Int("retry_count", updated.RetryCount),
			zap.Duration("delay", decision.Delay),
			zap.Error(cause))
		w.Notifier.Notify(notify.NewEvent(models.EventAttemptFailed, updated, platformName))
		return queue.RetryIn(decision.Delay, cause)
	}

	log.Error("Publish failed",
		zap.String("reason", decision.Reason),
		zap.Bool("retryable", decision.Retryable),
		zap.Int("retry_count", updated.RetryCount),
		zap.Error(cause))
	w.Notifier.Notify(notify.NewEvent(models.EventFailed, updated, platformName))
	return nil
}

// abandon fails a post left PUBLISHING by a job the queue is about to drop.
func (w *PublishWorker) abandon(ctx context.Context, job *queue.Job, cause error) {
	log := w.Log.With(zap.Int64("post_id", job.Payload.PostID), zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))

	updated, err := w.Posts.Transition(ctx, job.Payload.PostID, func(p *models.Post) error {
		if p.Status != models.PostStatusPublishing {
			return errNotDue
		}
		if err := lifecycle.Apply(p, models.PostStatusFailed); err != nil {
			return err
		}
		p.SetError("delivery attempts exhausted: " + cause.Error())
		p.QueueStatus = models.JobStatusFailed
		return nil
	})
	if errors.Is(err, errNotDue) || errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error("Failed to fail post after exhausted deliveries", zap.Error(err))
		return
	}

	if err := w.Jobs.SetStatus(ctx, updated.ID, models.JobStatusFailed, updated.ErrorMessage); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Error("Failed to update job record", zap.Error(err))
	}

	platformName := ""
	if account, err := w.Accounts.GetByID(ctx, updated.AccountID); err == nil {
		platformName = account.Platform
	}
	log.Error("Publish abandoned after exhausted deliveries", zap.Error(cause))
	w.Notifier.Notify(notify.NewEvent(models.EventFailed, updated, platformName))
}

// deferPublish hands the post back to the queue without spending retry budget.
func (w *PublishWorker) deferPublish(ctx context.Context, log *zap.Logger, post *models.Post, platformName string) error {
	updated, err := w.Posts.Transition(ctx, post.ID, func(p *models.Post) error {
		if err := lifecycle.Apply(p, models.PostStatusScheduled); err != nil {
			return err
		}
		p.QueueStatus = models.JobStatusPending
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.Jobs.SetStatus(ctx, post.ID, models.JobStatusPending, errRateLimited.Error()); err != nil {
		log.Error("Failed to update job record", zap.Error(err))
	}

	log.Info("Publish deferred by rate limit", zap.Duration("delay", w.rateLimitDelay))
	w.Notifier.Notify(notify.NewEvent(models.EventDeferred, updated, platformName))
	return queue.RetryIn(w.rateLimitDelay, errRateLimited)
}

func (w *PublishWorker) flagAccount(ctx context.Context, log *zap.Logger, account *models.Account, cause error) {
	if w.disabler == nil || !account.IsActive() {
		return
	}
	if err := w.disabler.MarkNeedsReauth(ctx, account.ID, cause.Error()); err != nil {
		log.Error("Failed to flag account for reauthorization", zap.Int64("account_id", account.ID), zap.Error(err))
		return
	}
	log.Warn("Account flagged for reauthorization", zap.Int64("account_id", account.ID))
}
