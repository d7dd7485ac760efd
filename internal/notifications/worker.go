package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/pkg/ctxlog"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	NumWorkers         int           `koanf:"num_workers"`
	PollInterval       time.Duration `koanf:"poll_interval"`
	ErrorRetryInterval time.Duration `koanf:"error_retry_interval"`
	MaxAttempts        int           `koanf:"max_attempts"`
	BackoffUnit        time.Duration `koanf:"backoff_unit"`
	BackoffBase        float64       `koanf:"backoff_base"`
	// MaxBackoff caps the retry delay. Zero leaves it uncapped.
	MaxBackoff  time.Duration `koanf:"max_backoff"`
	SendTimeout time.Duration `koanf:"send_timeout"`
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:         2,
		PollInterval:       1 * time.Second,
		ErrorRetryInterval: 5 * time.Second,
		MaxAttempts:        5,
		BackoffUnit:        1 * time.Second,
		BackoffBase:        2.0,
		SendTimeout:        30 * time.Second,
	}
}

// Fanout pushes delivered notifications to live client connections.
type Fanout interface {
	Deliver(ctx context.Context, userID string, n domain.Notification) int
}

// Worker delivers notifications from the queue.
type Worker struct {
	config     WorkerConfig
	queue      Queue
	dispatcher *Dispatcher
	fanout     Fanout

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWorker creates a new notification worker. fanout may be nil.
func NewWorker(config WorkerConfig, queue Queue, dispatcher *Dispatcher, fanout Fanout) *Worker {
	return &Worker{
		config:     config,
		queue:      queue,
		dispatcher: dispatcher,
		fanout:     fanout,
	}
}

// Start launches worker goroutines. Calling Start on a running worker does nothing.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})

	slog.Info("starting notification worker",
		"workers", w.config.NumWorkers,
		"poll_interval", w.config.PollInterval,
		"max_attempts", w.config.MaxAttempts,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i, w.stopCh)
	}
}

// Stop signals all workers and waits for them to exit.
// A delivery in progress is completed first.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	slog.Info("notification worker stopped")
}

// Running reports whether the worker loops are active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context, workerID int, stopCh <-chan struct{}) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		delay := w.step(ctx, workerID)
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// step processes at most one entry and returns how long to sleep before the next one.
func (w *Worker) step(ctx context.Context, workerID int) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("notification worker panic",
				"worker", workerID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			delay = w.config.ErrorRetryInterval
		}
	}()

	processed, err := w.ProcessNext(ctx)
	switch {
	case err != nil:
		slog.Error("notification worker iteration failed", "worker", workerID, "error", err)
		return w.config.ErrorRetryInterval
	case !processed:
		return w.config.PollInterval
	default:
		return 0
	}
}

// ProcessNext dequeues one ready entry and attempts its delivery.
// It returns false when nothing was ready.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	entry, err := w.queue.DequeueReady(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if entry == nil {
		return false, nil
	}
	recordQueueFetched()

	// Once dequeued the entry must reach a final state even if shutdown begins.
	return true, w.processEntry(context.WithoutCancel(ctx), entry)
}

func (w *Worker) processEntry(ctx context.Context, entry *QueueEntry) error {
	start := time.Now()
	channel := string(entry.Payload.Channel)
	ctx, logger := ctxlog.With(ctx,
		"item_id", entry.ID,
		"user_id", entry.Payload.UserID,
		"channel_type", channel,
	)

	sendCtx := ctx
	if w.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, w.config.SendTimeout)
		defer cancel()
	}

	err := w.deliver(sendCtx, entry.Payload)
	duration := time.Since(start)
	recordNotificationDuration(channel, duration)

	if err != nil {
		return w.handleSendError(ctx, entry, err)
	}

	recordNotificationSent(channel, "success")
	logger.Debug("notification sent", "duration", duration)

	if w.fanout != nil {
		delivered := entry.Payload
		delivered.Status = domain.NotificationStatusDelivered
		w.fanout.Deliver(ctx, delivered.UserID, delivered)
	}
	return nil
}

// deliver turns a panicking sender into an ordinary delivery failure so the
// entry still goes through retry or dead-lettering.
func (w *Worker) deliver(ctx context.Context, n domain.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("channel sender panic",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return w.dispatcher.Deliver(ctx, n)
}

func (w *Worker) handleSendError(ctx context.Context, entry *QueueEntry, sendErr error) error {
	channel := string(entry.Payload.Channel)
	entry.Attempts++
	entry.LastError = sendErr.Error()

	logger := ctxlog.FromContext(ctx)
	logger.Warn("send failed",
		"attempt", entry.Attempts,
		"max_attempts", w.config.MaxAttempts,
		"error", sendErr,
	)

	if entry.Attempts >= w.config.MaxAttempts {
		if err := w.queue.MoveToDeadLetter(ctx, entry, sendErr.Error()); err != nil {
			recordNotificationSent(channel, "lost")
			return fmt.Errorf("move %s to dead letter: %w", entry.ID, err)
		}
		recordNotificationSent(channel, "dead_letter")
		recordDeadLettered(channel)
		logger.Error("notification moved to dead letter queue", "attempts", entry.Attempts)
		return nil
	}

	nextAttempt := time.Now().Add(w.Backoff(entry.Attempts))
	if err := w.queue.Requeue(ctx, entry, nextAttempt); err != nil {
		recordNotificationSent(channel, "lost")
		return fmt.Errorf("requeue %s: %w", entry.ID, err)
	}
	recordNotificationSent(channel, "retry")

	logger.Info("notification scheduled for retry", "next_attempt", nextAttempt)
	return nil
}

// Backoff returns the retry delay after the given number of failed attempts:
// BackoffUnit * BackoffBase^attempts, capped by MaxBackoff when it is set.
func (w *Worker) Backoff(attempts int) time.Duration {
	d := float64(w.config.BackoffUnit) * math.Pow(w.config.BackoffBase, float64(attempts))
	if w.config.MaxBackoff > 0 && d > float64(w.config.MaxBackoff) {
		return w.config.MaxBackoff
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
