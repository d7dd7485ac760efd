package notifications

import (
	"context"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/google/uuid"
)

// QueueEntry is a notification waiting for delivery.
type QueueEntry struct {
	ID           string              `json:"id"`
	Payload      domain.Notification `json:"payload"`
	Attempts     int                 `json:"attempts"`
	CreatedAt    time.Time           `json:"created_at"`
	ScheduledFor *time.Time          `json:"scheduled_for,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
}

// Ready reports whether the entry may be delivered at now.
func (e *QueueEntry) Ready(now time.Time) bool {
	return e.ScheduledFor == nil || !e.ScheduledFor.After(now)
}

// DeadLetterEntry is an entry that exhausted its delivery attempts.
type DeadLetterEntry struct {
	QueueEntry
	Error   string    `json:"error"`
	MovedAt time.Time `json:"moved_to_dlq_at"`
}

// QueueStats contains entry counts per queue.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Scheduled  int64 `json:"scheduled"`
	DeadLetter int64 `json:"dead_letter"`
}

// Queue stores entries until the worker delivers them.
// Every backing store failure is returned as *QueueUnavailableError.
type Queue interface {
	// Enqueue stores payload for delivery at scheduledFor when it lies in the
	// future. A nil or past scheduledFor joins the immediate queue in arrival order.
	Enqueue(ctx context.Context, payload domain.Notification, scheduledFor *time.Time) (*QueueEntry, error)
	// DequeueReady removes and returns the next ready entry. Overdue scheduled
	// entries are returned before immediate ones. It returns nil, nil when
	// nothing is ready.
	DequeueReady(ctx context.Context) (*QueueEntry, error)
	// Requeue stores entry for delivery at at, keeping its attempt count.
	Requeue(ctx context.Context, entry *QueueEntry, at time.Time) error
	// MoveToDeadLetter stores entry in the dead letter queue as is.
	MoveToDeadLetter(ctx context.Context, entry *QueueEntry, errMsg string) error
	// ReplayDeadLetter moves every dead letter entry back to the immediate
	// queue with a fresh attempt count and returns how many were moved.
	ReplayDeadLetter(ctx context.Context) (int, error)
	ListDeadLetter(ctx context.Context, limit int) ([]DeadLetterEntry, error)
	Stats(ctx context.Context) (QueueStats, error)
}

// NewQueueEntry builds a new entry for payload.
func NewQueueEntry(payload domain.Notification, scheduledFor *time.Time, now time.Time) *QueueEntry {
	entry := &QueueEntry{
		ID:        uuid.NewString(),
		Payload:   payload,
		CreatedAt: now,
	}
	if scheduledFor != nil {
		at := *scheduledFor
		entry.ScheduledFor = &at
	}
	return entry
}

// NewDeadLetterEntry builds the dead letter record of entry.
func NewDeadLetterEntry(entry *QueueEntry, errMsg string, now time.Time) DeadLetterEntry {
	return DeadLetterEntry{
		QueueEntry: *entry,
		Error:      errMsg,
		MovedAt:    now,
	}
}

// Replayed returns the entry to enqueue when a dead letter entry is replayed.
func (d DeadLetterEntry) Replayed() *QueueEntry {
	entry := d.QueueEntry
	entry.Attempts = 0
	entry.LastError = ""
	entry.ScheduledFor = nil
	return &entry
}
