package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/maheshrc27/postflow/internal/models"
)

const DefaultLockDuration = 30 * time.Second

// MemoryQueue keeps jobs in process memory. Finished jobs stay in the map
// for inspection until the key is enqueued again.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*Job
	lock time.Duration
	now  func() time.Time
}

type MemoryOption func(*MemoryQueue)

// WithClock replaces the time source used for due times and locks.
func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

func NewMemoryQueue(lockDuration time.Duration, opts ...MemoryOption) *MemoryQueue {
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}
	q := &MemoryQueue{
		jobs: make(map[string]*Job),
		lock: lockDuration,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, key string, payload Payload, delay time.Duration) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.jobs[key]; ok && existing.Status == models.JobStatusProcessing {
		return "", fmt.Errorf("enqueue %s: %w", key, ErrJobActive)
	}

	if delay < 0 {
		delay = 0
	}
	q.jobs[key] = &Job{
		ID:      id,
		Key:     key,
		Payload: payload,
		Status:  models.JobStatusPending,
		RunAt:   q.now().Add(delay),
	}
	return id, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[key]
	if !ok {
		return false, nil
	}
	switch job.Status {
	case models.JobStatusPending, models.JobStatusRetrying:
		delete(q.jobs, key)
		return true, nil
	case models.JobStatusProcessing:
		return false, fmt.Errorf("cancel %s: %w", key, ErrJobActive)
	}
	return false, nil
}

func (q *MemoryQueue) Status(_ context.Context, key string) (models.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return job.Status, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var s Stats
	for _, job := range q.jobs {
		switch job.Status {
		case models.JobStatusPending, models.JobStatusRetrying:
			if job.RunAt.After(now) {
				s.Delayed++
			} else {
				s.Waiting++
			}
		case models.JobStatusProcessing:
			s.Active++
		case models.JobStatusCompleted:
			s.Completed++
		case models.JobStatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

// Claim locks the earliest due job for workerID.
func (q *MemoryQueue) Claim(_ context.Context, workerID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var next *Job
	for _, job := range q.jobs {
		if job.Status != models.JobStatusPending && job.Status != models.JobStatusRetrying {
			continue
		}
		if job.RunAt.After(now) {
			continue
		}
		if next == nil || job.RunAt.Before(next.RunAt) {
			next = job
		}
	}
	if next == nil {
		return nil, ErrNoJob
	}

	next.Status = models.JobStatusProcessing
	next.Attempt++
	next.LockedBy = workerID
	next.LockedUntil = now.Add(q.lock)

	cp := *next
	return &cp, nil
}

func (q *MemoryQueue) Ack(_ context.Context, job *Job) error {
	return q.owned(job, func(j *Job) {
		j.Status = models.JobStatusCompleted
		j.LastError = ""
		j.unlock()
	})
}

func (q *MemoryQueue) Fail(_ context.Context, job *Job, next *time.Duration) error {
	return q.owned(job, func(j *Job) {
		j.LastError = job.LastError
		j.unlock()
		if next == nil {
			j.Status = models.JobStatusFailed
			return
		}
		j.Status = models.JobStatusRetrying
		j.RunAt = q.now().Add(*next)
	})
}

func (q *MemoryQueue) Extend(_ context.Context, job *Job, d time.Duration) error {
	return q.owned(job, func(j *Job) {
		j.LockedUntil = q.now().Add(d)
		job.LockedUntil = j.LockedUntil
	})
}

// RecoverStalled returns jobs whose claim expired to the queue and reports how many.
func (q *MemoryQueue) RecoverStalled(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := 0
	for _, job := range q.jobs {
		if job.Status == models.JobStatusProcessing && job.LockedUntil.Before(now) {
			job.Status = models.JobStatusPending
			job.unlock()
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) owned(job *Job, fn func(j *Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.jobs[job.Key]
	if !ok || current.ID != job.ID || current.Status != models.JobStatusProcessing || current.LockedBy != job.LockedBy {
		return fmt.Errorf("%s: %w", job.Key, ErrLockLost)
	}
	fn(current)
	return nil
}

func (j *Job) unlock() {
	j.LockedBy = ""
	j.LockedUntil = time.Time{}
}
