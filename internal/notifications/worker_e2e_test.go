package notifications_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/notifications"
	"github.com/bissquit/pillbox/internal/notifications/memory"
	"github.com/bissquit/pillbox/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	channel domain.ChannelType
	fail    atomic.Bool
	panics  atomic.Bool
	delay   time.Duration
	calls   atomic.Int32

	mu   sync.Mutex
	sent []notifications.Message
}

func (s *recordingSender) Type() domain.ChannelType { return s.channel }

func (s *recordingSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *recordingSender) Send(ctx context.Context, msg notifications.Message) error {
	s.calls.Add(1)
	if s.panics.Load() {
		panic("gateway client bug")
	}
	if s.fail.Load() {
		return errors.New("gateway unavailable")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

type liveConn struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (c *liveConn) ID() string { return "conn-1" }

func (c *liveConn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, data)
	return nil
}

func (c *liveConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

type pipeline struct {
	queue    *memory.Store
	sender   *recordingSender
	registry *realtime.Registry
	service  *notifications.Service
	worker   *notifications.Worker
}

func newPipeline(t *testing.T, maxAttempts int) *pipeline {
	t.Helper()
	return newPipelineWithSender(t, maxAttempts, &recordingSender{channel: domain.ChannelTypeSMS})
}

func newPipelineWithSender(t *testing.T, maxAttempts int, sender *recordingSender) *pipeline {
	t.Helper()

	renderer, err := notifications.NewRenderer()
	require.NoError(t, err)

	dispatcher := notifications.NewDispatcher(renderer, notifications.InAppSender{}, sender)
	queue := memory.New()
	registry := realtime.NewRegistry()

	worker := notifications.NewWorker(notifications.WorkerConfig{
		NumWorkers:         2,
		PollInterval:       5 * time.Millisecond,
		ErrorRetryInterval: 20 * time.Millisecond,
		MaxAttempts:        maxAttempts,
		BackoffUnit:        time.Millisecond,
		BackoffBase:        2,
		SendTimeout:        time.Second,
	}, queue, dispatcher, registry)

	return &pipeline{
		queue:    queue,
		sender:   sender,
		registry: registry,
		service:  notifications.NewService(queue, dispatcher, registry),
		worker:   worker,
	}
}

func smsInput() notifications.EnqueueInput {
	return notifications.EnqueueInput{
		UserID:    "42",
		Type:      domain.NotificationTypeMedicationReminder,
		Title:     "Time for Aspirin",
		Message:   "Take 100mg",
		Channel:   domain.ChannelTypeSMS,
		Recipient: "+15550100",
	}
}

// Scenario A: an immediate notification is sent once and reaches the user's live connection.
func TestPipeline_ImmediateDelivery(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 3)
	conn := &liveConn{}
	p.registry.Connect(conn, "42")

	entry, err := p.service.EnqueueNotification(ctx, smsInput(), nil)
	require.NoError(t, err)
	assert.Nil(t, entry.ScheduledFor)

	p.worker.Start(ctx)
	defer p.worker.Stop()

	require.Eventually(t, func() bool { return conn.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), p.sender.calls.Load())
	p.sender.mu.Lock()
	msg := p.sender.sent[0]
	p.sender.mu.Unlock()
	assert.Equal(t, "+15550100", msg.To)
	assert.Equal(t, "[Reminder] Time for Aspirin", msg.Subject)
	assert.Contains(t, msg.Body, "Take 100mg")

	var env realtime.Envelope
	require.NoError(t, json.Unmarshal(conn.msgs[0], &env))
	assert.Equal(t, realtime.EnvelopeTypeNotification, env.Type)
	assert.Equal(t, entry.Payload.ID, env.Data.ID)
	assert.Equal(t, string(domain.NotificationStatusDelivered), env.Data.Status)

	stats, err := p.service.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStats{}, stats)
}

// Scenario B: a notification that always fails ends in the dead letter queue after MaxAttempts sends.
func TestPipeline_ExhaustedRetriesDeadLetter(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 5)
	p.sender.fail.Store(true)
	conn := &liveConn{}
	p.registry.Connect(conn, "42")

	entry, err := p.service.EnqueueNotification(ctx, smsInput(), nil)
	require.NoError(t, err)

	p.worker.Start(ctx)
	defer p.worker.Stop()

	require.Eventually(t, func() bool {
		stats, err := p.service.GetQueueStats(ctx)
		return err == nil && stats.DeadLetter == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(5), p.sender.calls.Load())
	assert.Zero(t, conn.count(), "failed notifications never reach live connections")

	dlq, err := p.service.ListDeadLetter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, entry.ID, dlq[0].ID)
	assert.Equal(t, 5, dlq[0].Attempts)
	assert.Contains(t, dlq[0].Error, "gateway unavailable")

	stats, err := p.service.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStats{DeadLetter: 1}, stats)
}

func TestPipeline_PanickingSenderCountsAsFailedAttempt(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 3)
	p.sender.panics.Store(true)

	entry, err := p.service.EnqueueNotification(ctx, smsInput(), nil)
	require.NoError(t, err)

	p.worker.Start(ctx)
	defer p.worker.Stop()

	require.Eventually(t, func() bool {
		stats, err := p.service.GetQueueStats(ctx)
		return err == nil && stats.DeadLetter == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(3), p.sender.calls.Load())

	dlq, err := p.service.ListDeadLetter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, entry.ID, dlq[0].ID)
	assert.Equal(t, 3, dlq[0].Attempts)
	assert.Contains(t, dlq[0].Error, "sender panic: gateway client bug")
}

func TestPipeline_StopWaitsForInFlightSend(t *testing.T) {
	sender := &recordingSender{channel: domain.ChannelTypeSMS, delay: 200 * time.Millisecond}
	p := newPipelineWithSender(t, 3, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := p.service.EnqueueNotification(ctx, smsInput(), nil)
	require.NoError(t, err)

	p.worker.Start(ctx)
	require.Eventually(t, func() bool { return sender.calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	require.Zero(t, sender.sentCount(), "send must still be in flight")

	cancel()
	p.worker.Stop()

	assert.Equal(t, 1, sender.sentCount(), "in-flight send completes before Stop returns")
	assert.Equal(t, int32(1), sender.calls.Load())

	stats, err := p.service.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStats{}, stats)
}

func TestPipeline_ReplayAfterRecovery(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 2)
	p.sender.fail.Store(true)

	_, err := p.service.EnqueueNotification(ctx, smsInput(), nil)
	require.NoError(t, err)

	p.worker.Start(ctx)
	defer p.worker.Stop()

	require.Eventually(t, func() bool {
		stats, err := p.service.GetQueueStats(ctx)
		return err == nil && stats.DeadLetter == 1
	}, 2*time.Second, 5*time.Millisecond)

	p.sender.fail.Store(false)
	n, err := p.service.ReplayDeadLetter(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		p.sender.mu.Lock()
		defer p.sender.mu.Unlock()
		return len(p.sender.sent) == 1
	}, 2*time.Second, 5*time.Millisecond)

	n, err = p.service.ReplayDeadLetter(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipeline_ScheduledDelivery(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 3)

	at := time.Now().Add(100 * time.Millisecond)
	entry, err := p.service.EnqueueNotification(ctx, smsInput(), &at)
	require.NoError(t, err)
	require.NotNil(t, entry.ScheduledFor)

	p.worker.Start(ctx)
	defer p.worker.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, p.sender.calls.Load(), "scheduled notification must wait until due")

	require.Eventually(t, func() bool { return p.sender.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestPipeline_InAppOnlyFansOut(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 3)
	conn := &liveConn{}
	p.registry.Connect(conn, "42")

	input := smsInput()
	input.Channel = domain.ChannelTypeInApp
	input.Recipient = ""
	_, err := p.service.EnqueueNotification(ctx, input, nil)
	require.NoError(t, err)

	p.worker.Start(ctx)
	defer p.worker.Stop()

	require.Eventually(t, func() bool { return conn.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, p.sender.calls.Load())
}

func TestService_EnqueueValidation(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 3)

	tests := []struct {
		name   string
		modify func(*notifications.EnqueueInput)
	}{
		{"missing user", func(in *notifications.EnqueueInput) { in.UserID = "" }},
		{"missing title", func(in *notifications.EnqueueInput) { in.Title = "" }},
		{"missing message", func(in *notifications.EnqueueInput) { in.Message = "" }},
		{"unknown channel", func(in *notifications.EnqueueInput) { in.Channel = "fax" }},
		{"channel without sender", func(in *notifications.EnqueueInput) { in.Channel = domain.ChannelTypePush }},
		{"missing recipient", func(in *notifications.EnqueueInput) { in.Recipient = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := smsInput()
			tt.modify(&input)

			_, err := p.service.EnqueueNotification(ctx, input, nil)
			assert.ErrorIs(t, err, notifications.ErrInvalidNotification)
		})
	}

	stats, err := p.service.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStats{}, stats)
}

func TestService_Broadcast(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 3)
	conn := &liveConn{}
	p.registry.Connect(conn, "7")

	n, err := p.service.Broadcast(ctx, "Maintenance", "Restart at midnight")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var env realtime.Envelope
	require.NoError(t, json.Unmarshal(conn.msgs[0], &env))
	assert.Equal(t, realtime.EnvelopeTypeSystem, env.Type)
	assert.Equal(t, "Restart at midnight", env.Data.Message)

	_, err = notifications.NewService(p.queue, nil, nil).Broadcast(ctx, "a", "b")
	assert.ErrorIs(t, err, notifications.ErrBroadcastDisabled)
}
