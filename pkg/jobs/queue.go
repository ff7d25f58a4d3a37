package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/pkg/backoff"
)

// ErrQueueClosed is returned by Enqueue once the queue stopped accepting work.
var ErrQueueClosed = errors.New("queue closed")

// Job is one unit of background work. Attempt counts failed runs so far.
type Job struct {
	ID       string
	Type     string
	Payload  any
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// DeadLetterFunc receives jobs that exhausted their retries.
type DeadLetterFunc func(Job, error)

// QueueConfig configures the worker pool.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	DeadLetter DeadLetterFunc
	Logger     *zap.Logger
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = c.Workers * 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Stats is a point-in-time view of queue throughput.
type Stats struct {
	Processed  int64
	Retried    int64
	DeadLetter int64
	Pending    int
}

// Queue runs jobs on a fixed pool of goroutines with backoff retries.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig
	retry   backoff.Policy

	jobs     chan Job
	inflight sync.WaitGroup // enqueued or retrying jobs
	workers  sync.WaitGroup

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	processed atomic.Int64
	retried   atomic.Int64
	dead      atomic.Int64
}

// NewQueue builds a queue. Nothing runs until Start.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		retry:   backoff.Policy{Base: cfg.RetryDelay, Max: cfg.RetryDelay * 8},
		jobs:    make(chan Job, cfg.BufferSize),
	}
}

// Start launches the workers. Calling it on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.workers.Add(1)
		go q.work()
	}
	q.cfg.Logger.Info("queue started", zap.String("queue", q.name), zap.Int("workers", q.cfg.Workers))
}

// Stop cancels the workers and waits for them. Buffered jobs and pending retries are abandoned.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	q.workers.Wait()
	abandoned := 0
	for {
		select {
		case <-q.jobs:
			abandoned++
			q.inflight.Done()
			continue
		default:
		}
		break
	}
	q.cfg.Logger.Info("queue stopped", zap.String("queue", q.name), zap.Int("abandoned", abandoned))
}

// Drain waits until every accepted job has finished, including retries, then stops the
// queue. When ctx expires first the remaining work is abandoned and ctx's error returned.
func (q *Queue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	q.Stop()
	return err
}

// Enqueue accepts a job, blocking while the buffer is full.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed)
	}
	ctx := q.ctx
	q.inflight.Add(1)
	q.mu.Unlock()

	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		q.inflight.Done()
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed)
	}
}

// Stats reports counters since construction.
func (q *Queue) Stats() Stats {
	return Stats{
		Processed:  q.processed.Load(),
		Retried:    q.retried.Load(),
		DeadLetter: q.dead.Load(),
		Pending:    len(q.jobs),
	}
}

func (q *Queue) work() {
	defer q.workers.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.run(job)
		}
	}
}

func (q *Queue) run(job Job) {
	err := q.handler(q.ctx, job)
	if err == nil {
		q.processed.Add(1)
		q.inflight.Done()
		return
	}

	job.Attempt++
	if job.Attempt > q.cfg.MaxRetries {
		q.dead.Add(1)
		q.inflight.Done()
		q.cfg.Logger.Error("job exhausted retries",
			zap.String("queue", q.name), zap.String("job_id", job.ID), zap.String("type", job.Type),
			zap.Int("attempts", job.Attempt), zap.Error(err))
		if q.cfg.DeadLetter != nil {
			q.cfg.DeadLetter(job, err)
		}
		return
	}

	q.retried.Add(1)
	q.cfg.Logger.Warn("job failed, retrying",
		zap.String("queue", q.name), zap.String("job_id", job.ID), zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt), zap.Error(err))

	// The retry keeps its inflight slot; a worker exit path must not block on a full buffer.
	q.workers.Add(1)
	go func(j Job) {
		defer q.workers.Done()
		if err := backoff.SleepWithContext(q.ctx, q.retry.Delay(j.Attempt)); err != nil {
			q.inflight.Done()
			return
		}
		select {
		case q.jobs <- j:
		case <-q.ctx.Done():
			q.inflight.Done()
		}
	}(job)
}
