// Package notify fans post lifecycle events out to sinks after the
// corresponding state change has been committed.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/models"
)

type Event struct {
	Type           models.EventType
	PostID         int64
	OrganizationID int64
	AccountID      int64
	Platform       string
	Status         models.PostStatus
	PlatformPostID string
	RetryCount     int
	Error          string
	Timezone       string
	At             time.Time
}

// NewEvent builds an event from the committed state of p.
func NewEvent(t models.EventType, p *models.Post, platform string) Event {
	return Event{
		Type:           t,
		PostID:         p.ID,
		OrganizationID: p.OrganizationID,
		AccountID:      p.AccountID,
		Platform:       platform,
		Status:         p.Status,
		PlatformPostID: p.PlatformPostID,
		RetryCount:     p.RetryCount,
		Error:          p.ErrorMessage,
		Timezone:       p.Timezone,
		At:             time.Now().UTC(),
	}
}

// History converts the event into an audit row.
func (e Event) History() *models.PostingHistory {
	return &models.PostingHistory{
		OrganizationID: e.OrganizationID,
		PostID:         e.PostID,
		AccountID:      e.AccountID,
		Platform:       e.Platform,
		Event:          e.Type,
		Status:         string(e.Status),
		PlatformPostID: e.PlatformPostID,
		RetryCount:     e.RetryCount,
		ErrorMessage:   e.Error,
		Timezone:       e.Timezone,
		CreatedAt:      e.At,
	}
}

// Notifier accepts events without blocking the caller.
type Notifier interface {
	Notify(e Event)
}

type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(Event) {}

const DefaultBuffer = 256

// Dispatcher queues events on a buffered channel drained by one goroutine.
type Dispatcher struct {
	log     *zap.Logger
	sinks   []Sink
	events  chan Event
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(log *zap.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Dispatcher{
		log:     log,
		sinks:   sinks,
		events:  make(chan Event, buffer),
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
	}
}

// Start drains the buffer until Close is called.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		for e := range d.events {
			d.deliver(e)
		}
	}()
}

func (d *Dispatcher) Notify(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	select {
	case d.events <- e:
	default:
		d.log.Warn("Notification buffer full, dropping event",
			zap.String("event", string(e.Type)),
			zap.Int64("post_id", e.PostID))
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := s.Handle(ctx, e); err != nil {
			d.log.Error("Notification sink failed",
				zap.String("sink", s.Name()),
				zap.String("event", string(e.Type)),
				zap.Int64("post_id", e.PostID),
				zap.Error(err))
		}
		cancel()
	}
}
