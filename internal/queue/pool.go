package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultConcurrency  = 3
	DefaultPollInterval = time.Second
)

// Counters is a snapshot of one worker's activity.
type Counters struct {
	WorkerID  string `json:"worker_id"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	Retried   int64  `json:"retried"`
	InFlight  int64  `json:"in_flight"`
}

// Sum adds up the counters of every worker.
func Sum(cs []Counters) Counters {
	var total Counters
	for _, c := range cs {
		total.Processed += c.Processed
		total.Failed += c.Failed
		total.Retried += c.Retried
		total.InFlight += c.InFlight
	}
	return total
}

type CounterSource interface {
	Counters() []Counters
}

type workerCounters struct {
	id        string
	processed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	inFlight  atomic.Int64
}

func newWorkerCounters() *workerCounters {
	return &workerCounters{id: uuid.New().String()}
}

func (w *workerCounters) snapshot() Counters {
	return Counters{
		WorkerID:  w.id,
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Retried:   w.retried.Load(),
		InFlight:  w.inFlight.Load(),
	}
}

func (w *workerCounters) record(o outcome) {
	switch o {
	case outcomeAck:
		w.processed.Add(1)
	case outcomeRetry:
		w.retried.Add(1)
	case outcomeFail:
		w.failed.Add(1)
	}
}

type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	LockDuration time.Duration
	Delivery     Delivery
}

// Pool runs a fixed number of workers pulling from a Claimer.
type Pool struct {
	claimer Claimer
	handler Handler
	cfg     PoolConfig
	log     *zap.Logger
	workers []*workerCounters
}

func NewPool(claimer Claimer, handler Handler, cfg PoolConfig, log *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = DefaultLockDuration
	}
	cfg.Delivery = cfg.Delivery.withDefaults()

	workers := make([]*workerCounters, cfg.Concurrency)
	for i := range workers {
		workers[i] = newWorkerCounters()
	}

	return &Pool{
		claimer: claimer,
		handler: handler,
		cfg:     cfg,
		log:     log,
		workers: workers,
	}
}

func (p *Pool) Counters() []Counters {
	out := make([]Counters, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.snapshot()
	}
	return out
}

// Run blocks until ctx is done and every in-flight job has finished.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("Worker pool started",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Duration("poll_interval", p.cfg.PollInterval))

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *workerCounters) {
			defer wg.Done()
			p.loop(ctx, w)
		}(w)
	}

	if r, ok := p.claimer.(interface {
		RecoverStalled(ctx context.Context) (int, error)
	}); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.recoverLoop(ctx, r.RecoverStalled)
		}()
	}

	wg.Wait()
	p.log.Info("Worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, w *workerCounters) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.claimer.Claim(ctx, w.id)
		if err != nil {
			if !errors.Is(err, ErrNoJob) {
				p.log.Error("Failed to claim job", zap.String("worker_id", w.id), zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.process(ctx, w, job)
	}
}

func (p *Pool) process(ctx context.Context, w *workerCounters, job *Job) {
	w.inFlight.Add(1)
	defer w.inFlight.Add(-1)

	stop := p.heartbeat(ctx, job)
	err := p.safeHandle(ctx, job)
	stop()

	// settle the job even when the pool is shutting down
	settleCtx := context.WithoutCancel(ctx)

	o, delay := p.cfg.Delivery.resolve(err, job.Attempt)
	w.record(o)

	fields := []zap.Field{
		zap.String("worker_id", w.id),
		zap.String("job_key", job.Key),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
	}

	switch o {
	case outcomeAck:
		err = p.claimer.Ack(settleCtx, job)
	case outcomeRetry:
		job.LastError = err.Error()
		p.log.Warn("Job will be retried", append(fields, zap.Duration("delay", delay), zap.Error(err))...)
		err = p.claimer.Fail(settleCtx, job, &delay)
	case outcomeFail:
		job.LastError = err.Error()
		p.log.Error("Job failed", append(fields, zap.Error(err))...)
		err = p.claimer.Fail(settleCtx, job, nil)
	}
	if err != nil {
		p.log.Error("Failed to settle job", append(fields, zap.Error(err))...)
	}
}

func (p *Pool) safeHandle(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, job)
}

// heartbeat keeps the claim alive while the handler runs.
func (p *Pool) heartbeat(ctx context.Context, job *Job) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.cfg.LockDuration / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.claimer.Extend(ctx, job, p.cfg.LockDuration); err != nil {
					p.log.Warn("Failed to extend job lock", zap.String("job_key", job.Key), zap.Error(err))
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (p *Pool) recoverLoop(ctx context.Context, recoverFn func(ctx context.Context) (int, error)) {
	ticker := time.NewTicker(p.cfg.LockDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := recoverFn(ctx)
			if err != nil {
				p.log.Error("Failed to recover stalled jobs", zap.Error(err))
				continue
			}
			if n > 0 {
				p.log.Warn("Recovered stalled jobs", zap.Int("count", n))
			}
		}
	}
}
