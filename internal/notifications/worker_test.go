package notifications

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_Backoff(t *testing.T) {
	worker := &Worker{config: WorkerConfig{
		BackoffUnit: 1 * time.Second,
		BackoffBase: 2.0,
	}}

	tests := []struct {
		name     string
		attempts int
		expected time.Duration
	}{
		{"first retry", 1, 2 * time.Second},
		{"second retry", 2, 4 * time.Second},
		{"third retry", 3, 8 * time.Second},
		{"fourth retry", 4, 16 * time.Second},
		{"fifth retry", 5, 32 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, worker.Backoff(tt.attempts))
		})
	}
}

func TestWorker_BackoffStrictlyIncreasing(t *testing.T) {
	worker := &Worker{config: DefaultWorkerConfig()}

	prev := worker.Backoff(0)
	for n := 1; n <= 30; n++ {
		next := worker.Backoff(n)
		assert.Greater(t, next, prev, "backoff(%d) must exceed backoff(%d)", n, n-1)
		prev = next
	}
}

func TestWorker_BackoffCapped(t *testing.T) {
	worker := &Worker{config: WorkerConfig{
		BackoffUnit: 1 * time.Second,
		BackoffBase: 2.0,
		MaxBackoff:  10 * time.Second,
	}}

	assert.Equal(t, 8*time.Second, worker.Backoff(3))
	assert.Equal(t, 10*time.Second, worker.Backoff(4))
	assert.Equal(t, 10*time.Second, worker.Backoff(100))
}

func TestWorker_BackoffOverflow(t *testing.T) {
	worker := &Worker{config: DefaultWorkerConfig()}

	assert.Equal(t, time.Duration(math.MaxInt64), worker.Backoff(1000))
}

func TestDefaultWorkerConfig(t *testing.T) {
	config := DefaultWorkerConfig()

	assert.Equal(t, 2, config.NumWorkers)
	assert.Equal(t, 1*time.Second, config.PollInterval)
	assert.Equal(t, 5*time.Second, config.ErrorRetryInterval)
	assert.Greater(t, config.ErrorRetryInterval, config.PollInterval)
	assert.Equal(t, 5, config.MaxAttempts)
	assert.Equal(t, 1*time.Second, config.BackoffUnit)
	assert.Equal(t, 2.0, config.BackoffBase)
	assert.Zero(t, config.MaxBackoff)
}

// failingQueue returns an error from every call.
type failingQueue struct {
	Queue
	calls int
	mu    sync.Mutex
}

func (q *failingQueue) DequeueReady(context.Context) (*QueueEntry, error) {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
	return nil, NewQueueUnavailableError("dequeue", errors.New("connection refused"))
}

func TestWorker_StepBacksOffOnQueueError(t *testing.T) {
	q := &failingQueue{}
	renderer, err := NewRenderer()
	require.NoError(t, err)
	worker := NewWorker(WorkerConfig{
		PollInterval:       10 * time.Millisecond,
		ErrorRetryInterval: time.Minute,
	}, q, NewDispatcher(renderer), nil)

	delay := worker.step(context.Background(), 0)

	assert.Equal(t, time.Minute, delay)
	assert.Equal(t, 1, q.calls)
}

type panickingQueue struct {
	Queue
}

func (panickingQueue) DequeueReady(context.Context) (*QueueEntry, error) {
	panic("corrupt state")
}

func TestWorker_StepRecoversPanic(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)
	worker := NewWorker(WorkerConfig{ErrorRetryInterval: 3 * time.Second}, panickingQueue{}, NewDispatcher(renderer), nil)

	var delay time.Duration
	assert.NotPanics(t, func() {
		delay = worker.step(context.Background(), 0)
	})
	assert.Equal(t, 3*time.Second, delay)
}

type emptyQueue struct {
	Queue
}

func (emptyQueue) DequeueReady(context.Context) (*QueueEntry, error) {
	return nil, nil
}

func TestWorker_StartStopIdempotent(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)
	worker := NewWorker(WorkerConfig{
		NumWorkers:   2,
		PollInterval: 5 * time.Millisecond,
	}, emptyQueue{}, NewDispatcher(renderer), nil)

	ctx := context.Background()
	worker.Start(ctx)
	worker.Start(ctx)
	assert.True(t, worker.Running())

	worker.Stop()
	worker.Stop()
	assert.False(t, worker.Running())

	worker.Start(ctx)
	assert.True(t, worker.Running())
	worker.Stop()
}

func TestQueueUnavailableError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := error(NewQueueUnavailableError("enqueue", cause))

	assert.True(t, errors.Is(err, ErrQueueUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "queue enqueue: dial tcp: connection refused", err.Error())
}

func TestQueueEntry_Ready(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, (&QueueEntry{}).Ready(now))
	assert.True(t, (&QueueEntry{ScheduledFor: &past}).Ready(now))
	assert.True(t, (&QueueEntry{ScheduledFor: &now}).Ready(now))
	assert.False(t, (&QueueEntry{ScheduledFor: &future}).Ready(now))
}

func TestDeadLetterEntry_Replayed(t *testing.T) {
	at := time.Now()
	d := NewDeadLetterEntry(&QueueEntry{
		ID:           "e-1",
		Payload:      domain.Notification{ID: "n-1"},
		Attempts:     5,
		ScheduledFor: &at,
		LastError:    "boom",
	}, "boom", at)

	assert.Equal(t, 5, d.Attempts)
	assert.Equal(t, "boom", d.Error)

	replayed := d.Replayed()
	assert.Equal(t, "e-1", replayed.ID)
	assert.Equal(t, 0, replayed.Attempts)
	assert.Empty(t, replayed.LastError)
	assert.Nil(t, replayed.ScheduledFor)
	assert.Equal(t, 5, d.Attempts, "replay must not modify the dead letter record")
}
