// Package redis implements reminders.Deduper with SET NX keys that expire on their own,
// so several planner replicas can share one Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/pillbox/internal/reminders"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces dose keys.
const DefaultKeyPrefix = "pillbox:planned:"

var _ reminders.Deduper = (*Deduper)(nil)

// Deduper implements reminders.Deduper.
type Deduper struct {
	client redis.UniversalClient
	prefix string
}

// New creates a Deduper. An empty prefix selects DefaultKeyPrefix.
func New(client redis.UniversalClient, prefix string) *Deduper {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Deduper{client: client, prefix: prefix}
}

// Acquire implements reminders.Deduper.
func (d *Deduper) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// Release implements reminders.Deduper.
func (d *Deduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}
