package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/credentials"
	"github.com/maheshrc27/postflow/internal/lifecycle"
	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/notify"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
)

var (
	ErrAccountInactive = errors.New("destination account is not active")
	// ErrRescheduleConflict means the existing job could not be withdrawn, so no new one was created.
	ErrRescheduleConflict = errors.New("existing job could not be cancelled")

	// errNativeUnavailable marks failures before the platform accepted a native schedule.
	errNativeUnavailable = errors.New("native scheduling unavailable")
)

// DefaultNativeMinLead is the shortest lead time handed to a platform's own scheduler.
const DefaultNativeMinLead = 15 * time.Minute

// Deps are the collaborators shared by the scheduler and the publish worker.
type Deps struct {
	Posts       repository.PostRepository
	Accounts    repository.AccountRepository
	Jobs        repository.JobRepository
	Queue       queue.Queue
	Registry    *platform.Registry
	Credentials credentials.Provider
	Media       media.Resolver
	Notifier    notify.Notifier
	Log         *zap.Logger
}

type SchedulerService interface {
	SchedulePost(ctx context.Context, postID int64) (*models.Post, error)
	ReschedulePost(ctx context.Context, postID int64, at time.Time) (*models.Post, error)
	CancelScheduledPost(ctx context.Context, postID int64) error
	PublishImmediately(ctx context.Context, postID int64) (*models.Post, error)
	QueueStats(ctx context.Context) (*QueueStats, error)
	JobInfo(ctx context.Context, postID int64) (*models.ScheduledJob, error)
	Reconcile(ctx context.Context) (*ReconcileReport, error)
}

type QueueStats struct {
	queue.Stats
	Totals  queue.Counters   `json:"totals"`
	Workers []queue.Counters `json:"workers"`
}

type ReconcileReport struct {
	Requeued  int `json:"requeued"`
	Confirmed int `json:"confirmed"`
	Recovered int `json:"recovered"`
}

type SchedulerOption func(*schedulerService)

// WithCounters exposes worker counters through QueueStats.
func WithCounters(src queue.CounterSource) SchedulerOption {
	return func(s *schedulerService) { s.counters = src }
}

// WithNativeMinLead sets how far ahead a post must be to use native scheduling.
func WithNativeMinLead(d time.Duration) SchedulerOption {
	return func(s *schedulerService) { s.nativeMinLead = d }
}

type schedulerService struct {
	Deps
	counters      queue.CounterSource
	nativeMinLead time.Duration
	reconcileMax  int
	now           func() time.Time
}

func NewSchedulerService(deps Deps, opts ...SchedulerOption) SchedulerService {
	s := &schedulerService{
		Deps:          deps,
		nativeMinLead: DefaultNativeMinLead,
		reconcileMax:  500,
		now:           time.Now,
	}
	if s.Notifier == nil {
		s.Notifier = notify.Discard{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// destination bundles what scheduling needs to know about the target account.
type destination struct {
	account *models.Account
	client  platform.Client
}

func (s *schedulerService) load(ctx context.Context, postID int64) (*models.Post, *destination, error) {
	post, err := s.Posts.GetByID(ctx, postID)
	if err != nil {
		return nil, nil, err
	}

	account, err := s.Accounts.GetByID(ctx, post.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("account %d: %w", post.AccountID, err)
	}
	if !account.IsActive() {
		return nil, nil, fmt.Errorf("account %d is %s: %w", account.ID, account.Status, ErrAccountInactive)
	}

	client, err := s.Registry.ForAccount(account)
	if err != nil {
		return nil, nil, err
	}
	return post, &destination{account: account, client: client}, nil
}

func (s *schedulerService) SchedulePost(ctx context.Context, postID int64) (*models.Post, error) {
	post, dest, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Validate(post.Status, models.PostStatusScheduled); err != nil {
		return nil, err
	}
	return s.replace(ctx, post, dest, post.ScheduledAt, false)
}

func (s *schedulerService) ReschedulePost(ctx context.Context, postID int64, at time.Time) (*models.Post, error) {
	if at.IsZero() {
		return nil, platform.Invalid("", "scheduled time is required")
	}

	post, dest, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Validate(post.Status, models.PostStatusScheduled); err != nil {
		return nil, err
	}

	updated, err := s.replace(ctx, post, dest, at.UTC(), false)
	if err != nil {
		return nil, err
	}
	s.Notifier.Notify(notify.NewEvent(models.EventRescheduled, updated, dest.account.Platform))
	return updated, nil
}

func (s *schedulerService) PublishImmediately(ctx context.Context, postID int64) (*models.Post, error) {
	post, dest, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Validate(post.Status, models.PostStatusScheduled); err != nil {
		return nil, err
	}
	return s.replace(ctx, post, dest, post.ScheduledAt, true)
}

func (s *schedulerService) CancelScheduledPost(ctx context.Context, postID int64) error {
	post, err := s.Posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post.Status == models.PostStatusCanceled {
		return nil
	}
	if err := lifecycle.Validate(lifecycle.Effective(post), models.PostStatusCanceled); err != nil {
		return err
	}

	platformName := ""
	if account, err := s.Accounts.GetByID(ctx, post.AccountID); err == nil {
		platformName = account.Platform
		var dest *destination
		if client, err := s.Registry.ForAccount(account); err == nil {
			dest = &destination{account: account, client: client}
		}
		if _, err := s.release(ctx, post, dest); err != nil {
			s.Log.Warn("Remote cancellation failed, cancelling locally",
				zap.Int64("post_id", postID), zap.Error(err))
		}
	}

	alreadyCanceled := errors.New("already canceled")
	updated, err := s.Posts.Transition(ctx, postID, func(p *models.Post) error {
		if p.Status == models.PostStatusCanceled {
			return alreadyCanceled
		}
		if err := lifecycle.Cancel(p); err != nil {
			return err
		}
		p.QueueStatus = models.JobStatusCancelled
		p.JobID = nil
		return nil
	})
	if errors.Is(err, alreadyCanceled) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.Jobs.SetStatus(ctx, postID, models.JobStatusCancelled, ""); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.Log.Error("Failed to mark job cancelled", zap.Int64("post_id", postID), zap.Error(err))
	}

	s.Log.Info("Post cancelled", zap.Int64("post_id", postID))
	s.Notifier.Notify(notify.NewEvent(models.EventCanceled, updated, platformName))
	return nil
}

func (s *schedulerService) QueueStats(ctx context.Context) (*QueueStats, error) {
	stats, err := s.Queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &QueueStats{Stats: stats}
	if s.counters != nil {
		out.Workers = s.counters.Counters()
		out.Totals = queue.Sum(out.Workers)
	}
	return out, nil
}

func (s *schedulerService) JobInfo(ctx context.Context, postID int64) (*models.ScheduledJob, error) {
	return s.Jobs.GetByPostID(ctx, postID)
}

// release withdraws the live job of post, if any, and reports whether there was one.
func (s *schedulerService) release(ctx context.Context, post *models.Post, dest *destination) (bool, error) {
	job, err := s.Jobs.GetByPostID(ctx, post.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !job.Status.IsLive() {
		return false, nil
	}

	switch job.Kind {
	case models.JobKindNative:
		if dest == nil {
			return false, fmt.Errorf("%w: no client for native job of post %d", ErrRescheduleConflict, post.ID)
		}
		ns, ok := dest.client.(platform.NativeScheduler)
		if !ok {
			return false, fmt.Errorf("%w: %s cannot delete scheduled posts", ErrRescheduleConflict, dest.client.Platform())
		}
		token, err := s.Credentials.UsableToken(ctx, dest.account.ID)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrRescheduleConflict, err)
		}
		deleted, err := ns.DeleteScheduled(ctx, job.Handle, platform.Target{Account: dest.account, Token: token})
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrRescheduleConflict, err)
		}
		if !deleted {
			return false, fmt.Errorf("%w: %s refused to delete %s", ErrRescheduleConflict, dest.client.Platform(), job.Handle)
		}
	default:
		if _, err := s.Queue.Cancel(ctx, post.JobKey()); err != nil {
			return false, fmt.Errorf("%w: %w", ErrRescheduleConflict, err)
		}
	}

	if err := s.Jobs.SetStatus(ctx, post.ID, models.JobStatusCancelled, ""); err != nil {
		return true, err
	}
	return true, nil
}

func (s *schedulerService) request(ctx context.Context, post *models.Post) (*platform.Request, error) {
	req := &platform.Request{
		PostID:  post.ID,
		Body:    post.Body,
		Options: post.Options,
	}
	if len(post.MediaIDs) == 0 {
		return req, nil
	}

	items, err := s.Media.Resolve(ctx, post.MediaIDs)
	if err != nil {
		return nil, err
	}
	req.Media = items
	return req, nil
}

// replace validates the content, withdraws the live job and creates the new one.
// Content is checked first so a rejected post keeps its current job.
func (s *schedulerService) replace(ctx context.Context, post *models.Post, dest *destination, at time.Time, immediate bool) (*models.Post, error) {
	req, err := s.request(ctx, post)
	if err != nil {
		return nil, err
	}
	if err := dest.client.Validate(req); err != nil {
		return nil, err
	}

	released, err := s.release(ctx, post, dest)
	if err != nil {
		return nil, err
	}
	return s.schedule(ctx, post, dest, req, at, immediate, released)
}

// schedule picks the native or the queue path. Once a live job was released
// a failed native schedule falls back to the queue so the post keeps a job.
func (s *schedulerService) schedule(ctx context.Context, post *models.Post, dest *destination, req *platform.Request, at time.Time, immediate, released bool) (*models.Post, error) {
	if !immediate {
		if ns, ok := s.Registry.NativeFor(dest.account); ok && at.Sub(s.now()) >= s.nativeMinLead {
			updated, err := s.scheduleNative(ctx, post, dest, ns, req, at)
			if err == nil || !released || !errors.Is(err, errNativeUnavailable) {
				return updated, err
			}
			s.Log.Warn("Native scheduling failed, falling back to the queue",
				zap.Int64("post_id", post.ID),
				zap.String("platform", dest.account.Platform),
				zap.Error(err))
		}
	}
	return s.scheduleQueued(ctx, post, dest, at, immediate)
}

func (s *schedulerService) scheduleQueued(ctx context.Context, post *models.Post, dest *destination, at time.Time, immediate bool) (*models.Post, error) {
	delay := at.Sub(s.now())
	if immediate || delay < 0 {
		if !immediate {
			s.Log.Info("Scheduled time already passed, publishing now",
				zap.Int64("post_id", post.ID),
				zap.Time("scheduled_at", at),
				zap.String("timezone", post.Timezone))
		}
		delay = 0
	}

	// The post is SCHEDULED before the job exists so an immediate delivery passes the worker's status check.
	updated, err := s.Posts.Transition(ctx, post.ID, func(p *models.Post) error {
		if err := lifecycle.Apply(p, models.PostStatusScheduled); err != nil {
			return err
		}
		resetForSchedule(p, post.Status)
		p.ScheduledAt = at
		p.QueueStatus = models.JobStatusPending
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.Jobs.Upsert(ctx, &models.ScheduledJob{
		PostID: post.ID,
		Handle: post.JobKey(),
		Kind:   models.JobKindQueue,
		Status: models.JobStatusPending,
		RunAt:  s.now().Add(delay),
	})
	if err != nil {
		return nil, err
	}

	handle, err := s.Queue.Enqueue(ctx, post.JobKey(), queue.Payload{PostID: post.ID}, delay)
	if err != nil {
		return nil, err
	}

	if err := s.Jobs.SetHandle(ctx, post.ID, handle); err != nil {
		return nil, err
	}
	updated, err = s.Posts.Transition(ctx, post.ID, func(p *models.Post) error {
		p.JobID = &handle
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("Post scheduled",
		zap.Int64("post_id", post.ID),
		zap.String("job_id", handle),
		zap.String("platform", dest.account.Platform),
		zap.Duration("delay", delay),
		zap.String("timezone", post.Timezone))
	s.Notifier.Notify(notify.NewEvent(models.EventScheduled, updated, dest.account.Platform))
	return updated, nil
}

func (s *schedulerService) scheduleNative(ctx context.Context, post *models.Post, dest *destination, ns platform.NativeScheduler, req *platform.Request, at time.Time) (*models.Post, error) {
	token, err := s.Credentials.UsableToken(ctx, dest.account.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNativeUnavailable, err)
	}
	target := platform.Target{Account: dest.account, Token: token}

	ref, err := ns.Schedule(ctx, target, req, at)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNativeUnavailable, err)
	}

	updated, err := s.Posts.Transition(ctx, post.ID, func(p *models.Post) error {
		if err := lifecycle.Apply(p, models.PostStatusScheduled); err != nil {
			return err
		}
		resetForSchedule(p, post.Status)
		p.ScheduledAt = at
		p.JobID = &ref
		p.PlatformPostID = ref
		p.QueueStatus = models.JobStatusPending
		return nil
	})
	if err != nil {
		if _, derr := ns.DeleteScheduled(context.WithoutCancel(ctx), ref, target); derr != nil {
			s.Log.Error("Failed to withdraw orphaned native schedule",
				zap.Int64("post_id", post.ID), zap.String("ref", ref), zap.Error(derr))
		}
		return nil, err
	}

	err = s.Jobs.Upsert(ctx, &models.ScheduledJob{
		PostID: post.ID,
		Handle: ref,
		Kind:   models.JobKindNative,
		Status: models.JobStatusPending,
		RunAt:  at,
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("Post scheduled natively",
		zap.Int64("post_id", post.ID),
		zap.String("ref", ref),
		zap.String("platform", dest.account.Platform),
		zap.Time("scheduled_at", at),
		zap.String("timezone", post.Timezone))
	s.Notifier.Notify(notify.NewEvent(models.EventScheduled, updated, dest.account.Platform))
	return updated, nil
}

// resetForSchedule clears attempt state when a post is scheduled explicitly.
func resetForSchedule(p *models.Post, from models.PostStatus) {
	if from == models.PostStatusFailed {
		p.RetryCount = 0
	}
	p.ErrorMessage = ""
	p.PlatformPostID = ""
	p.JobID = nil
}

// Reconcile repairs posts whose job went missing, including publishes cut
// short by a crash, and confirms natively scheduled posts that are due.
func (s *schedulerService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	if r, ok := s.Queue.(interface {
		RecoverStalled(ctx context.Context) (int, error)
	}); ok {
		n, err := r.RecoverStalled(ctx)
		if err != nil {
			return nil, err
		}
		report.Recovered = n
	}

	scheduled, err := s.Posts.ListByStatus(ctx, models.PostStatusScheduled, s.reconcileMax)
	if err != nil {
		return nil, err
	}
	failed, err := s.Posts.ListByStatus(ctx, models.PostStatusFailed, s.reconcileMax)
	if err != nil {
		return nil, err
	}
	publishing, err := s.Posts.ListByStatus(ctx, models.PostStatusPublishing, s.reconcileMax)
	if err != nil {
		return nil, err
	}

	posts := append(append(scheduled, failed...), publishing...)
	for _, post := range posts {
		if post.Status == models.PostStatusFailed && post.QueueStatus != models.JobStatusRetrying {
			continue
		}
		if err := s.reconcilePost(ctx, post, report); err != nil {
			s.Log.Error("Failed to reconcile post", zap.Int64("post_id", post.ID), zap.Error(err))
		}
	}

	if report.Requeued > 0 || report.Confirmed > 0 || report.Recovered > 0 {
		s.Log.Info("Reconciled posts",
			zap.Int("requeued", report.Requeued),
			zap.Int("confirmed", report.Confirmed),
			zap.Int("recovered", report.Recovered))
	}
	return report, nil
}

func (s *schedulerService) reconcilePost(ctx context.Context, post *models.Post, report *ReconcileReport) error {
	job, err := s.Jobs.GetByPostID(ctx, post.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	if job != nil && job.Kind == models.JobKindNative && job.Status.IsLive() {
		confirmed, err := s.confirmNative(ctx, post, job)
		if err != nil {
			return err
		}
		if confirmed {
			report.Confirmed++
		}
		return nil
	}

	status, err := s.Queue.Status(ctx, post.JobKey())
	switch {
	case err == nil && status.IsLive():
		return nil
	case err != nil && !errors.Is(err, queue.ErrNotFound):
		return err
	}

	interrupted := post.Status == models.PostStatusPublishing
	if interrupted {
		// the listing may predate a publish that finished meanwhile
		current, err := s.Posts.GetByID(ctx, post.ID)
		if err != nil {
			return err
		}
		if current.Status != models.PostStatusPublishing {
			return nil
		}
	}

	delay := post.ScheduledAt.Sub(s.now())
	if delay < 0 || interrupted {
		delay = 0
	}

	// A PROCESSING record lets the next delivery resume the interrupted publish.
	recStatus := models.JobStatusPending
	if interrupted {
		recStatus = models.JobStatusProcessing
	}
	switch {
	case job == nil || job.Kind != models.JobKindQueue:
		err := s.Jobs.Upsert(ctx, &models.ScheduledJob{
			PostID: post.ID,
			Handle: post.JobKey(),
			Kind:   models.JobKindQueue,
			Status: recStatus,
			RunAt:  s.now().Add(delay),
		})
		if err != nil {
			return err
		}
	case interrupted && job.Status != models.JobStatusProcessing:
		if err := s.Jobs.SetStatus(ctx, post.ID, models.JobStatusProcessing, job.LastError); err != nil {
			return err
		}
	}

	handle, err := s.Queue.Enqueue(ctx, post.JobKey(), queue.Payload{PostID: post.ID}, delay)
	if err != nil {
		return err
	}
	if err := s.Jobs.SetHandle(ctx, post.ID, handle); err != nil {
		return err
	}
	if _, err := s.Posts.Transition(ctx, post.ID, func(p *models.Post) error {
		p.JobID = &handle
		return nil
	}); err != nil {
		return err
	}

	s.Log.Warn("Re-enqueued post with missing job",
		zap.Int64("post_id", post.ID),
		zap.String("job_id", handle),
		zap.String("status", string(post.Status)),
		zap.Duration("delay", delay))
	report.Requeued++
	return nil
}

// confirmNative marks a natively scheduled post published once its time has passed.
func (s *schedulerService) confirmNative(ctx context.Context, post *models.Post, job *models.ScheduledJob) (bool, error) {
	if post.Status != models.PostStatusScheduled || post.ScheduledAt.After(s.now()) {
		return false, nil
	}

	account, err := s.Accounts.GetByID(ctx, post.AccountID)
	if err != nil {
		return false, err
	}
	client, err := s.Registry.ForAccount(account)
	if err != nil {
		return false, err
	}

	if checker, ok := client.(platform.StatusChecker); ok {
		token, err := s.Credentials.UsableToken(ctx, account.ID)
		if err != nil {
			return false, err
		}
		published, err := checker.IsPublished(ctx, platform.Target{Account: account, Token: token}, job.Handle)
		if err != nil {
			return false, err
		}
		if !published {
			s.Log.Info("Native post not live yet", zap.Int64("post_id", post.ID), zap.String("ref", job.Handle))
			return false, nil
		}
	}

	updated, err := s.Posts.Transition(ctx, post.ID, func(p *models.Post) error {
		if err := lifecycle.Apply(p, models.PostStatusPublishing); err != nil {
			return err
		}
		if err := lifecycle.Apply(p, models.PostStatusPublished); err != nil {
			return err
		}
		p.PlatformPostID = job.Handle
		p.QueueStatus = models.JobStatusCompleted
		return nil
	})
	if err != nil {
		return false, err
	}
	if err := s.Jobs.SetStatus(ctx, post.ID, models.JobStatusCompleted, ""); err != nil {
		return false, err
	}

	s.Notifier.Notify(notify.NewEvent(models.EventPublished, updated, account.Platform))
	return true, nil
}
