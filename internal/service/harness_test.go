package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/credentials"
	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/notify"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/retry"
)

type publishFunc func(ctx context.Context, target platform.Target, req *platform.Request) (*platform.Result, error)

// fakeClient is a queue-only platform client.
type fakeClient struct {
	name        string
	validateErr error

	mu      sync.Mutex
	publish publishFunc
	calls   []*platform.Request
}

func (c *fakeClient) Platform() string { return c.name }

func (c *fakeClient) Validate(*platform.Request) error { return c.validateErr }

func (c *fakeClient) Publish(ctx context.Context, target platform.Target, req *platform.Request) (*platform.Result, error) {
	c.mu.Lock()
	cp := *req
	c.calls = append(c.calls, &cp)
	fn := c.publish
	c.mu.Unlock()

	if fn == nil {
		return &platform.Result{PlatformPostID: "remote-1"}, nil
	}
	return fn(ctx, target, req)
}

func (c *fakeClient) ValidateCredentials(context.Context, platform.Target) (bool, error) {
	return true, nil
}

func (c *fakeClient) Calls() []*platform.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*platform.Request(nil), c.calls...)
}

// fakeNative can hold posts on the platform side.
type fakeNative struct {
	*fakeClient

	scheduled   map[string]time.Time
	nextRef     int
	scheduleErr error
	deleteOK    bool
	deleteErr   error
	isPublished bool
}

func newFakeNative(name string) *fakeNative {
	return &fakeNative{
		fakeClient:  &fakeClient{name: name},
		scheduled:   map[string]time.Time{},
		deleteOK:    true,
		isPublished: true,
	}
}

func (c *fakeNative) Schedule(_ context.Context, target platform.Target, _ *platform.Request, at time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduleErr != nil {
		return "", c.scheduleErr
	}
	c.nextRef++
	ref := fmt.Sprintf("%s_%d", target.Account.ExternalID, c.nextRef)
	c.scheduled[ref] = at
	return ref, nil
}

func (c *fakeNative) DeleteScheduled(_ context.Context, ref string, _ platform.Target) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil || !c.deleteOK {
		return false, c.deleteErr
	}
	delete(c.scheduled, ref)
	return true, nil
}

func (c *fakeNative) IsPublished(context.Context, platform.Target, string) (bool, error) {
	return c.isPublished, nil
}

// failingJobs loses every attempt write, like a job store that went away mid-delivery.
type failingJobs struct {
	repository.JobRepository
	err error
}

func (f failingJobs) MarkAttempt(context.Context, int64) error {
	return f.err
}

type staticCredentials struct {
	err error
}

func (s staticCredentials) UsableToken(context.Context, int64) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "token", nil
}

type mockDisabler struct {
	mock.Mock
}

func (m *mockDisabler) MarkNeedsReauth(ctx context.Context, accountID int64, reason string) error {
	args := m.Called(ctx, accountID, reason)
	return args.Error(0)
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, ids []string) ([]media.Item, error) {
	args := m.Called(ctx, ids)
	items, _ := args.Get(0).([]media.Item)
	return items, args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) Types() []models.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.EventType, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	t        *testing.T
	clock    *testClock
	posts    *repository.MemoryPostRepository
	accounts *repository.MemoryAccountRepository
	jobs     *repository.MemoryJobRepository
	queue    *queue.MemoryQueue
	registry *platform.Registry
	resolver *mockResolver
	notifier *recordingNotifier
	deps     Deps

	scheduler SchedulerService
	worker    *PublishWorker
}

// newHarness wires the services over in-memory stores with a manual clock.
func newHarness(t *testing.T, clients ...platform.Client) *harness {
	t.Helper()
	clock := &testClock{t: time.Now().UTC().Truncate(time.Second)}
	h := newHarnessWithClock(t, clock.Now, clients...)
	h.clock = clock
	return h
}

func newHarnessWithClock(t *testing.T, now func() time.Time, clients ...platform.Client) *harness {
	t.Helper()

	registry, err := platform.NewRegistry(clients...)
	require.NoError(t, err)

	h := &harness{
		t:        t,
		posts:    repository.NewMemoryPostRepository(),
		accounts: repository.NewMemoryAccountRepository(),
		jobs:     repository.NewMemoryJobRepository(),
		queue:    queue.NewMemoryQueue(time.Second, queue.WithClock(now)),
		registry: registry,
		resolver: &mockResolver{},
		notifier: &recordingNotifier{},
	}
	h.deps = Deps{
		Posts:       h.posts,
		Accounts:    h.accounts,
		Jobs:        h.jobs,
		Queue:       h.queue,
		Registry:    registry,
		Credentials: staticCredentials{},
		Media:       h.resolver,
		Notifier:    h.notifier,
		Log:         zap.NewNop(),
	}
	scheduler := NewSchedulerService(h.deps).(*schedulerService)
	scheduler.now = now
	h.scheduler = scheduler
	h.worker = NewPublishWorker(h.deps, retry.NewClassifier(retry.DefaultPolicy()))
	return h
}

// restart rebuilds the queue and the services over the same stores, like a
// process restart with the memory backend.
func (h *harness) restart() {
	h.t.Helper()
	now := h.scheduler.(*schedulerService).now

	h.queue = queue.NewMemoryQueue(time.Second, queue.WithClock(now))
	h.deps.Queue = h.queue
	scheduler := NewSchedulerService(h.deps).(*schedulerService)
	scheduler.now = now
	h.scheduler = scheduler
	h.worker = NewPublishWorker(h.deps, retry.NewClassifier(retry.DefaultPolicy()))
}

func (h *harness) account(platformName string, typ models.AccountType) *models.Account {
	h.t.Helper()
	acc := &models.Account{
		OrganizationID: 1,
		Platform:       platformName,
		ExternalID:     "ext" + platformName,
		AccountType:    typ,
		Status:         models.AccountStatusActive,
		TokenExpiresAt: time.Now().Add(24 * time.Hour),
	}
	_, err := h.accounts.Create(context.Background(), nil, acc)
	require.NoError(h.t, err)
	return acc
}

func (h *harness) post(acc *models.Account, status models.PostStatus, at time.Time) *models.Post {
	h.t.Helper()
	p := &models.Post{
		OrganizationID: 1,
		UserID:         1,
		AccountID:      acc.ID,
		Body:           "hello",
		ScheduledAt:    at,
		Timezone:       "Europe/Berlin",
		Status:         status,
	}
	_, err := h.posts.Create(context.Background(), nil, p)
	require.NoError(h.t, err)
	return p
}

func (h *harness) now() time.Time {
	return h.scheduler.(*schedulerService).now()
}

func (h *harness) get(id int64) *models.Post {
	h.t.Helper()
	p, err := h.posts.GetByID(context.Background(), id)
	require.NoError(h.t, err)
	return p
}

// deliver claims the next due job and runs the worker on it like a pool would.
func (h *harness) deliver() (*queue.Job, error) {
	h.t.Helper()
	ctx := context.Background()

	job, err := h.queue.Claim(ctx, "test-worker")
	require.NoError(h.t, err)

	herr := h.worker.Handle(ctx, job)
	if herr == nil {
		require.NoError(h.t, h.queue.Ack(ctx, job))
		return job, nil
	}

	var re *queue.RetryError
	if errors.As(herr, &re) {
		job.LastError = herr.Error()
		require.NoError(h.t, h.queue.Fail(ctx, job, &re.Delay))
	}
	return job, herr
}

var _ credentials.Provider = staticCredentials{}
var _ credentials.Disabler = (*mockDisabler)(nil)
var _ media.Resolver = (*mockResolver)(nil)
var _ platform.NativeScheduler = (*fakeNative)(nil)
var _ platform.StatusChecker = (*fakeNative)(nil)
