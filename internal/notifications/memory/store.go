// Package memory provides an in-process notification queue for development and tests.
package memory

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/notifications"
)

var _ notifications.Queue = (*Store)(nil)

// Store implements notifications.Queue in memory. Entries do not survive a restart.
type Store struct {
	mu         sync.Mutex
	immediate  []*notifications.QueueEntry
	scheduled  scheduledHeap
	deadLetter []notifications.DeadLetterEntry
	seq        uint64
	now        func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{now: time.Now}
}

// Enqueue implements notifications.Queue.
func (s *Store) Enqueue(_ context.Context, payload domain.Notification, scheduledFor *time.Time) (*notifications.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := notifications.NewQueueEntry(payload, scheduledFor, now.UTC())
	if entry.Ready(now) {
		s.immediate = append(s.immediate, clone(entry))
	} else {
		s.pushScheduled(clone(entry))
	}
	return entry, nil
}

// DequeueReady implements notifications.Queue.
func (s *Store) DequeueReady(_ context.Context) (*notifications.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduled.Len() > 0 && !s.scheduled[0].at.After(s.now()) {
		item := heap.Pop(&s.scheduled).(*scheduledItem)
		return item.entry, nil
	}

	if len(s.immediate) > 0 {
		entry := s.immediate[0]
		s.immediate[0] = nil
		s.immediate = s.immediate[1:]
		return entry, nil
	}

	return nil, nil
}

// Requeue implements notifications.Queue.
func (s *Store) Requeue(_ context.Context, entry *notifications.QueueEntry, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := clone(entry)
	e.ScheduledFor = &at
	s.pushScheduled(e)
	return nil
}

// MoveToDeadLetter implements notifications.Queue.
func (s *Store) MoveToDeadLetter(_ context.Context, entry *notifications.QueueEntry, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deadLetter = append(s.deadLetter, notifications.NewDeadLetterEntry(clone(entry), errMsg, s.now().UTC()))
	return nil
}

// ReplayDeadLetter implements notifications.Queue.
func (s *Store) ReplayDeadLetter(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.deadLetter)
	for _, d := range s.deadLetter {
		s.immediate = append(s.immediate, d.Replayed())
	}
	s.deadLetter = nil
	return n, nil
}

// ListDeadLetter implements notifications.Queue.
func (s *Store) ListDeadLetter(_ context.Context, limit int) ([]notifications.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.deadLetter)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]notifications.DeadLetterEntry, n)
	copy(out, s.deadLetter[:n])
	return out, nil
}

// Stats implements notifications.Queue.
func (s *Store) Stats(_ context.Context) (notifications.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return notifications.QueueStats{
		Pending:    int64(len(s.immediate)),
		Scheduled:  int64(s.scheduled.Len()),
		DeadLetter: int64(len(s.deadLetter)),
	}, nil
}

func (s *Store) pushScheduled(entry *notifications.QueueEntry) {
	s.seq++
	heap.Push(&s.scheduled, &scheduledItem{entry: entry, at: *entry.ScheduledFor, seq: s.seq})
}

func clone(entry *notifications.QueueEntry) *notifications.QueueEntry {
	e := *entry
	if entry.ScheduledFor != nil {
		at := *entry.ScheduledFor
		e.ScheduledFor = &at
	}
	return &e
}

type scheduledItem struct {
	entry *notifications.QueueEntry
	at    time.Time
	seq   uint64
}

// scheduledHeap orders entries by due time, then by insertion order.
type scheduledHeap []*scheduledItem

func (h scheduledHeap) Len() int { return len(h) }

func (h scheduledHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h scheduledHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scheduledHeap) Push(x any) { *h = append(*h, x.(*scheduledItem)) }

func (h *scheduledHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
