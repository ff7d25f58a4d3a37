package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestQueueProcessesJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	var handled int32
	done := make(chan struct{}, 3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&handled, 1)
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})

	q.Start(context.Background())
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "job", Type: "noop"}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("job not processed")
		}
	}
	q.Stop()
	assert.Equal(t, int32(3), atomic.LoadInt32(&handled))
}

func TestQueueRetriesFailedJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	var attempts int32
	succeeded := make(chan int, 1)
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		succeeded <- job.Attempt
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond})

	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "flaky"}))

	select {
	case attempt := <-succeeded:
		assert.Equal(t, 2, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	q.Stop()
}

func TestQueueStopAbandonsPendingRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	failed := make(chan struct{}, 1)
	q := NewQueue("stop", func(ctx context.Context, job Job) error {
		select {
		case failed <- struct{}{}:
		default:
		}
		return errors.New("always")
	}, QueueConfig{MaxRetries: 5, RetryDelay: time.Hour})

	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "job-1"}))
	<-failed
	q.Stop()

	require.Error(t, q.Enqueue(Job{ID: "job-2"}))
}

func TestQueueDrainFinishesAcceptedJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	var handled atomic.Int32
	q := NewQueue("drain", func(ctx context.Context, job Job) error {
		if job.Attempt == 0 && job.ID == "flaky" {
			return errors.New("once")
		}
		handled.Add(1)
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 8, RetryDelay: time.Millisecond})

	q.Start(context.Background())
	for _, id := range []string{"a", "b", "flaky", "c"} {
		require.NoError(t, q.Enqueue(Job{ID: id}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	assert.Equal(t, int32(4), handled.Load())
	stats := q.Stats()
	assert.Equal(t, int64(4), stats.Processed)
	assert.Equal(t, int64(1), stats.Retried)
	assert.ErrorIs(t, q.Enqueue(Job{ID: "late"}), ErrQueueClosed)
}

func TestQueueDeadLettersExhaustedJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	dead := make(chan Job, 1)
	q := NewQueue("dead", func(ctx context.Context, job Job) error {
		return errors.New("permanent")
	}, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond, DeadLetter: func(j Job, err error) {
		dead <- j
	}})

	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "doomed"}))

	select {
	case j := <-dead:
		assert.Equal(t, "job-1", j.ID)
		assert.Equal(t, 3, j.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not dead-lettered")
	}
	q.Stop()
	assert.Equal(t, int64(1), q.Stats().DeadLetter)
}
