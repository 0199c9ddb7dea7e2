// Package queue holds delayed publish jobs keyed by post.
//
// Two backends implement Queue: MemoryQueue, driven by a Pool of polling
// workers, and AsynqQueue, backed by Redis and consumed by an asynq server.
// Both hand jobs to the same Handler and interpret its result the same way.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

const TaskTypePublishPost = "publish:post"

var (
	// ErrNoJob is returned by Claim when nothing is due.
	ErrNoJob = errors.New("no job available")
	// ErrJobActive is returned when a key is replaced or cancelled while a worker holds it.
	ErrJobActive = errors.New("job is being processed")
	ErrNotFound  = errors.New("job not found")
	// ErrLockLost means the claim expired or the key was replaced before Ack or Fail.
	ErrLockLost = errors.New("job lock lost")
	// ErrSkipRetry wrapped into a handler error fails the job terminally.
	ErrSkipRetry = errors.New("skip retry")
)

type Payload struct {
	PostID int64 `json:"post_id"`
}

type Job struct {
	ID          string           `json:"id"`
	Key         string           `json:"key"`
	Payload     Payload          `json:"payload"`
	Status      models.JobStatus `json:"status"`
	Attempt     int              `json:"attempt"`
	RunAt       time.Time        `json:"run_at"`
	LockedBy    string           `json:"locked_by,omitempty"`
	LockedUntil time.Time        `json:"locked_until,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
}

type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// Queue is the producer and inspection side shared by both backends.
type Queue interface {
	// Enqueue stores a job under key to run after delay, replacing any
	// job pending under the same key. It returns the job handle.
	Enqueue(ctx context.Context, key string, payload Payload, delay time.Duration) (string, error)
	// Cancel removes the pending job under key. It reports false when
	// nothing was pending.
	Cancel(ctx context.Context, key string) (bool, error)
	Status(ctx context.Context, key string) (models.JobStatus, error)
	Stats(ctx context.Context) (Stats, error)
}

// Claimer is the consumer side of pull based backends.
type Claimer interface {
	Claim(ctx context.Context, workerID string) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Fail with a nil next fails the job terminally, otherwise it runs again after *next.
	Fail(ctx context.Context, job *Job, next *time.Duration) error
	Extend(ctx context.Context, job *Job, d time.Duration) error
}

// Handler processes one delivery of a job.
//
// A nil result acknowledges the job. A *RetryError re-enqueues it under the
// same key after its delay. An error wrapping ErrSkipRetry fails it for good.
// Any other error is a local failure redelivered after the redelivery delay
// until the delivery budget is spent.
type Handler func(ctx context.Context, job *Job) error

type RetryError struct {
	Delay time.Duration
	Err   error
}

func (e *RetryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("retry in %s", e.Delay)
	}
	return fmt.Sprintf("retry in %s: %v", e.Delay, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

func RetryIn(d time.Duration, cause error) error {
	return &RetryError{Delay: d, Err: cause}
}

// SkipRetry marks err as terminal for the queue.
func SkipRetry(err error) error {
	return fmt.Errorf("%w: %w", err, ErrSkipRetry)
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeFail
)

// Delivery limits applied to handler errors that carry no retry decision.
type Delivery struct {
	RedeliveryDelay time.Duration
	MaxDeliveries   int
}

const (
	DefaultRedeliveryDelay = 10 * time.Second
	DefaultMaxDeliveries   = 5
)

func (d Delivery) withDefaults() Delivery {
	if d.RedeliveryDelay <= 0 {
		d.RedeliveryDelay = DefaultRedeliveryDelay
	}
	if d.MaxDeliveries <= 0 {
		d.MaxDeliveries = DefaultMaxDeliveries
	}
	return d
}

// resolve maps a handler result for the given delivery attempt to what the backend does next.
func (d Delivery) resolve(err error, attempt int) (outcome, time.Duration) {
	if err == nil {
		return outcomeAck, 0
	}

	var re *RetryError
	if errors.As(err, &re) {
		return outcomeRetry, re.Delay
	}
	if errors.Is(err, ErrSkipRetry) {
		return outcomeFail, 0
	}
	if attempt >= d.MaxDeliveries {
		return outcomeFail, 0
	}
	return outcomeRetry, d.RedeliveryDelay
}
