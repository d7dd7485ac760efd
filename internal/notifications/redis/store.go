// Package redis implements notifications.Queue on Redis. Immediate entries
// live in a List, scheduled entries in a Sorted Set scored by due time, and
// dead letter entries in a second List. Entries are stored as JSON.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/notifications"
	"github.com/redis/go-redis/v9"
)

var _ notifications.Queue = (*Store)(nil)

// maxReplayAttempts bounds optimistic transaction retries when the dead
// letter list changes during a replay.
const maxReplayAttempts = 5

// dequeueScript pops the oldest overdue scheduled entry, falling back to the
// head of the immediate list.
var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due > 0 then
	redis.call('ZREM', KEYS[1], due[1])
	return due[1]
end
return redis.call('LPOP', KEYS[2])
`)

// Option configures the Store.
type Option func(*Store)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements notifications.Queue backed by Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a new Redis-backed queue. The caller owns the client lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultKeyPrefix, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue implements notifications.Queue.
func (s *Store) Enqueue(ctx context.Context, payload domain.Notification, scheduledFor *time.Time) (*notifications.QueueEntry, error) {
	now := s.now()
	entry := notifications.NewQueueEntry(payload, scheduledFor, now.UTC())

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}

	if entry.Ready(now) {
		err = s.client.RPush(ctx, s.immediateKey(), data).Err()
	} else {
		err = s.client.ZAdd(ctx, s.scheduledKey(), redis.Z{
			Score:  score(*entry.ScheduledFor),
			Member: data,
		}).Err()
	}
	if err != nil {
		return nil, notifications.NewQueueUnavailableError("enqueue", err)
	}
	return entry, nil
}

// DequeueReady implements notifications.Queue. Entries that no longer decode
// are dropped and the next ready entry is popped in the same call.
func (s *Store) DequeueReady(ctx context.Context) (*notifications.QueueEntry, error) {
	keys := []string{s.scheduledKey(), s.immediateKey()}

	for {
		now := strconv.FormatFloat(score(s.now()), 'f', 0, 64)
		raw, err := dequeueScript.Run(ctx, s.client, keys, now).Text()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, notifications.NewQueueUnavailableError("dequeue", err)
		}

		var entry notifications.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// Already removed from Redis, so it cannot be retried.
			slog.Error("dropping undecodable queue entry", "error", err, "raw", raw)
			continue
		}
		return &entry, nil
	}
}

// Requeue implements notifications.Queue.
func (s *Store) Requeue(ctx context.Context, entry *notifications.QueueEntry, at time.Time) error {
	e := *entry
	e.ScheduledFor = &at

	data, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	if err := s.client.ZAdd(ctx, s.scheduledKey(), redis.Z{Score: score(at), Member: data}).Err(); err != nil {
		return notifications.NewQueueUnavailableError("requeue", err)
	}
	return nil
}

// MoveToDeadLetter implements notifications.Queue.
func (s *Store) MoveToDeadLetter(ctx context.Context, entry *notifications.QueueEntry, errMsg string) error {
	data, err := json.Marshal(notifications.NewDeadLetterEntry(entry, errMsg, s.now().UTC()))
	if err != nil {
		return fmt.Errorf("encode dead letter entry: %w", err)
	}

	if err := s.client.RPush(ctx, s.deadLetterKey(), data).Err(); err != nil {
		return notifications.NewQueueUnavailableError("move to dead letter", err)
	}
	return nil
}

// ReplayDeadLetter implements notifications.Queue.
func (s *Store) ReplayDeadLetter(ctx context.Context) (int, error) {
	for range maxReplayAttempts {
		n, err := s.replayOnce(ctx)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, notifications.NewQueueUnavailableError("replay dead letter", err)
		}
		return n, nil
	}
	return 0, notifications.NewQueueUnavailableError("replay dead letter", redis.TxFailedErr)
}

func (s *Store) replayOnce(ctx context.Context) (int, error) {
	dlqKey := s.deadLetterKey()
	var replayed int

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, dlqKey, 0, -1).Result()
		if err != nil {
			return err
		}
		if len(raw) == 0 {
			return nil
		}

		values := make([]any, 0, len(raw))
		for _, item := range raw {
			var d notifications.DeadLetterEntry
			if err := json.Unmarshal([]byte(item), &d); err != nil {
				slog.Error("dropping undecodable dead letter entry", "error", err)
				continue
			}
			data, err := json.Marshal(d.Replayed())
			if err != nil {
				return fmt.Errorf("encode entry: %w", err)
			}
			values = append(values, data)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LTrim(ctx, dlqKey, int64(len(raw)), -1)
			if len(values) > 0 {
				pipe.RPush(ctx, s.immediateKey(), values...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		replayed = len(values)
		return nil
	}, dlqKey)

	return replayed, err
}

// ListDeadLetter implements notifications.Queue.
func (s *Store) ListDeadLetter(ctx context.Context, limit int) ([]notifications.DeadLetterEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := s.client.LRange(ctx, s.deadLetterKey(), 0, stop).Result()
	if err != nil {
		return nil, notifications.NewQueueUnavailableError("list dead letter", err)
	}

	entries := make([]notifications.DeadLetterEntry, 0, len(raw))
	for _, item := range raw {
		var d notifications.DeadLetterEntry
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			slog.Warn("skipping undecodable dead letter entry", "error", err)
			continue
		}
		entries = append(entries, d)
	}
	return entries, nil
}

// Stats implements notifications.Queue.
func (s *Store) Stats(ctx context.Context) (notifications.QueueStats, error) {
	pipe := s.client.Pipeline()
	pending := pipe.LLen(ctx, s.immediateKey())
	scheduled := pipe.ZCard(ctx, s.scheduledKey())
	deadLetter := pipe.LLen(ctx, s.deadLetterKey())

	if _, err := pipe.Exec(ctx); err != nil {
		return notifications.QueueStats{}, notifications.NewQueueUnavailableError("stats", err)
	}

	return notifications.QueueStats{
		Pending:    pending.Val(),
		Scheduled:  scheduled.Val(),
		DeadLetter: deadLetter.Val(),
	}, nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
