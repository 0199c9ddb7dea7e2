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

// Consumer runs an asynq server feeding publish tasks to a Handler.
type Consumer struct {
	server   *asynq.Server
	handler  Handler
	delivery Delivery
	counters *workerCounters
	log      *zap.Logger
}

func NewConsumer(redis asynq.RedisConnOpt, cfg AsynqConfig, concurrency int, delivery Delivery, handler Handler, log *zap.Logger) *Consumer {
	cfg = cfg.withDefaults()
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	delivery = delivery.withDefaults()

	c := &Consumer{
		handler:  handler,
		delivery: delivery,
		counters: newWorkerCounters(),
		log:      log,
	}

	c.server = asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      log.Sugar(),
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			var re *RetryError
			if errors.As(err, &re) {
				return re.Delay
			}
			return delivery.RedeliveryDelay
		},
		// scheduled retries are not failures of the queue
		IsFailure: func(err error) bool {
			var re *RetryError
			return !errors.As(err, &re)
		},
	})
	return c
}

func (c *Consumer) Counters() []Counters {
	return []Counters{c.counters.snapshot()}
}

// Run blocks until ctx is done, then shuts the server down.
func (c *Consumer) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePublishPost, c.HandlePublishPostTask)

	c.log.Info("Starting the Asynq server...")
	if err := c.server.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}

	<-ctx.Done()
	c.server.Shutdown()
	return nil
}

func (c *Consumer) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	key, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	job := &Job{
		ID:      key,
		Key:     key,
		Payload: payload,
		Status:  models.JobStatusProcessing,
		Attempt: retried + 1,
		RunAt:   time.Now(),
	}

	c.counters.inFlight.Add(1)
	err := c.handler(ctx, job)
	c.counters.inFlight.Add(-1)

	o, _ := c.delivery.resolve(err, job.Attempt)
	c.counters.record(o)

	if o == outcomeFail {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
