package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Handle(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func samplePost() *models.Post {
	return &models.Post{
		ID:             42,
		OrganizationID: 7,
		AccountID:      3,
		Status:         models.PostStatusPublished,
		PlatformPostID: "fb_1",
		Timezone:       "Europe/Berlin",
	}
}

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}

	d := NewDispatcher(zap.NewNop(), 8, failing, ok)
	d.Start()

	d.Notify(NewEvent(models.EventPublished, samplePost(), "facebook"))
	d.Notify(NewEvent(models.EventCanceled, samplePost(), "facebook"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	assert.Len(t, failing.Events(), 2, "a failing sink still sees every event")
	require.Len(t, ok.Events(), 2)
	assert.Equal(t, models.EventPublished, ok.Events()[0].Type)
	assert.Equal(t, "fb_1", ok.Events()[0].PlatformPostID)
}

func TestDispatcher_FullBufferDrops(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &recordingSink{}

	d := NewDispatcher(zap.New(core), 1, sink)
	d.Notify(NewEvent(models.EventScheduled, samplePost(), "facebook"))
	d.Notify(NewEvent(models.EventPublished, samplePost(), "facebook"))

	assert.Equal(t, 1, logs.FilterMessage("Notification buffer full, dropping event").Len())

	d.Start()
	require.NoError(t, d.Close(context.Background()))
	require.Len(t, sink.Events(), 1)
	assert.Equal(t, models.EventScheduled, sink.Events()[0].Type)
}

func TestDispatcher_NotifyAfterCloseIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(zap.NewNop(), 1, sink)
	d.Start()
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() {
		d.Notify(NewEvent(models.EventFailed, samplePost(), "facebook"))
	})
	assert.Empty(t, sink.Events())
}

func TestHistorySink(t *testing.T) {
	repo := repository.NewMemoryPostingHistoryRepository()
	sink := NewHistorySink(repo)

	p := samplePost()
	p.Status = models.PostStatusFailed
	p.ErrorMessage = "token expired"
	p.RetryCount = 2
	require.NoError(t, sink.Handle(context.Background(), NewEvent(models.EventFailed, p, "instagram")))

	rows, err := repo.ListByPostID(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.EventFailed, rows[0].Event)
	assert.Equal(t, "FAILED", rows[0].Status)
	assert.Equal(t, "instagram", rows[0].Platform)
	assert.Equal(t, "token expired", rows[0].ErrorMessage)
	assert.Equal(t, 2, rows[0].RetryCount)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Handle(context.Background(), NewEvent(models.EventPublished, samplePost(), "facebook")))

	entries := logs.FilterMessage("Post event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(42), fields["post_id"])
	assert.Equal(t, "Europe/Berlin", fields["timezone"])
}
