package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/pkg/jobs"
)

const jobType = "domain_event"

// AsyncDispatcher hands events to a worker queue so slow handlers do not hold up callers.
type AsyncDispatcher struct {
	queue *jobs.Queue
}

// NewAsyncDispatcher wraps next behind a queue built from cfg. Call Start before dispatching.
// Events whose handlers keep failing are logged with their name unless cfg sets DeadLetter.
func NewAsyncDispatcher(next Dispatcher, cfg jobs.QueueConfig) *AsyncDispatcher {
	handler := func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(Event)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		return next.Dispatch(ctx, event)
	}
	if cfg.DeadLetter == nil {
		logger := cfg.Logger
		if logger == nil {
			logger = zap.NewNop()
		}
		cfg.DeadLetter = func(job jobs.Job, err error) {
			name := ""
			if event, ok := job.Payload.(Event); ok {
				name = event.EventName()
			}
			logger.Error("domain event dropped", zap.String("event", name), zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return &AsyncDispatcher{queue: jobs.NewQueue("domain-events", handler, cfg)}
}

// Start launches the queue workers.
func (d *AsyncDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop halts the workers, abandoning undelivered events.
func (d *AsyncDispatcher) Stop() {
	d.queue.Stop()
}

// Shutdown delivers the events already accepted, giving up when ctx expires.
func (d *AsyncDispatcher) Shutdown(ctx context.Context) error {
	return d.queue.Drain(ctx)
}

// Stats exposes the underlying queue counters.
func (d *AsyncDispatcher) Stats() jobs.Stats {
	return d.queue.Stats()
}

// Dispatch enqueues the event. Errors only report enqueue failures.
func (d *AsyncDispatcher) Dispatch(_ context.Context, event Event) error {
	if event == nil {
		return nil
	}
	return d.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: event,
	})
}
