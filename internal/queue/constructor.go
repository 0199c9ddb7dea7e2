package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/models"
)

const (
	DefaultQueueName   = "publish"
	DefaultTaskTimeout = 10 * time.Minute
	DefaultRetention   = 24 * time.Hour
	// DefaultMaxRetry bounds asynq redeliveries. Publish retries are decided by the handler.
	DefaultMaxRetry = 25
)

type AsynqConfig struct {
	Queue       string
	TaskTimeout time.Duration
	Retention   time.Duration
	MaxRetry    int
}

func (c AsynqConfig) withDefaults() AsynqConfig {
	if c.Queue == "" {
		c.Queue = DefaultQueueName
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = DefaultMaxRetry
	}
	return c
}

// AsynqQueue stores jobs as asynq tasks whose task ID is the job key.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	cfg       AsynqConfig
	log       *zap.Logger
}

func NewAsynqQueue(redis asynq.RedisConnOpt, cfg AsynqConfig, log *zap.Logger) *AsynqQueue {
	return &AsynqQueue{
		client:    asynq.NewClient(redis),
		inspector: asynq.NewInspector(redis),
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}

func (q *AsynqQueue) Enqueue(ctx context.Context, key string, payload Payload, delay time.Duration) (string, error) {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	if err := q.release(key); err != nil {
		return "", err
	}

	if delay < 0 {
		delay = 0
	}
	task := asynq.NewTask(TaskTypePublishPost, taskPayload)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.TaskID(key),
		asynq.Queue(q.cfg.Queue),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(q.cfg.MaxRetry),
		asynq.Timeout(q.cfg.TaskTimeout),
		asynq.Retention(q.cfg.Retention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", fmt.Errorf("enqueue %s: %w", key, ErrJobActive)
		}
		return "", fmt.Errorf("enqueue %s: %w", key, err)
	}

	q.log.Info("Task scheduled",
		zap.String("task_id", info.ID),
		zap.Int64("post_id", payload.PostID),
		zap.Time("process_at", info.NextProcessAt))
	return info.ID, nil
}

// release deletes whatever task occupies key so the ID can be reused.
func (q *AsynqQueue) release(key string) error {
	info, err := q.inspector.GetTaskInfo(q.cfg.Queue, key)
	if err != nil {
		if isTaskMissing(err) {
			return nil
		}
		return fmt.Errorf("inspect %s: %w", key, err)
	}
	if info.State == asynq.TaskStateActive {
		return fmt.Errorf("enqueue %s: %w", key, ErrJobActive)
	}
	if err := q.inspector.DeleteTask(q.cfg.Queue, key); err != nil && !isTaskMissing(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (q *AsynqQueue) Cancel(_ context.Context, key string) (bool, error) {
	info, err := q.inspector.GetTaskInfo(q.cfg.Queue, key)
	if err != nil {
		if isTaskMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect %s: %w", key, err)
	}

	switch info.State {
	case asynq.TaskStateActive:
		return false, fmt.Errorf("cancel %s: %w", key, ErrJobActive)
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		if err := q.inspector.DeleteTask(q.cfg.Queue, key); err != nil {
			if isTaskMissing(err) {
				return false, nil
			}
			return false, fmt.Errorf("delete %s: %w", key, err)
		}
		return true, nil
	}
	return false, nil
}

func (q *AsynqQueue) Status(_ context.Context, key string) (models.JobStatus, error) {
	info, err := q.inspector.GetTaskInfo(q.cfg.Queue, key)
	if err != nil {
		if isTaskMissing(err) {
			return "", fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("inspect %s: %w", key, err)
	}
	return statusFromState(info.State), nil
}

func (q *AsynqQueue) Stats(_ context.Context) (Stats, error) {
	info, err := q.inspector.GetQueueInfo(q.cfg.Queue)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return Stats{}, nil
		}
		return Stats{}, fmt.Errorf("queue info: %w", err)
	}
	return Stats{
		Waiting:   info.Pending,
		Active:    info.Active,
		Completed: info.Completed,
		Failed:    info.Archived,
		Delayed:   info.Scheduled + info.Retry,
	}, nil
}

func statusFromState(s asynq.TaskState) models.JobStatus {
	switch s {
	case asynq.TaskStateActive:
		return models.JobStatusProcessing
	case asynq.TaskStateRetry:
		return models.JobStatusRetrying
	case asynq.TaskStateArchived:
		return models.JobStatusFailed
	case asynq.TaskStateCompleted:
		return models.JobStatusCompleted
	default:
		return models.JobStatusPending
	}
}

func isTaskMissing(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}
