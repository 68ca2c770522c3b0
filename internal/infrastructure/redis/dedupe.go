package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeStore remembers processed callback identifiers so redelivered
// callbacks are detected across restarts and replicas. Keys expire after
// ttl; the gateway stops redelivering long before that.
type DedupeStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedupeStore(client *redis.Client, ttl time.Duration) *DedupeStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupeStore{client: client, ttl: ttl}
}

// Seen atomically records key as processed and reports whether it had
// already been recorded.
func (d *DedupeStore) Seen(ctx context.Context, key string) (bool, error) {
	// SET NX: first delivery claims the key, redeliveries find it taken.
	fresh, err := d.client.SetNX(ctx, d.fullKey(key), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dedupe key: %w", err)
	}
	return !fresh, nil
}

// Forget drops a processed marker, letting the callback be handled
// again. Used when settlement fails after the marker was claimed.
func (d *DedupeStore) Forget(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to drop dedupe key: %w", err)
	}
	return nil
}

func (d *DedupeStore) fullKey(key string) string {
	return fmt.Sprintf("callback:seen:%s", key)
}
