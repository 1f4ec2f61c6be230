package data

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CleanupQueue is a Redis sorted set of job IDs scored by their cleanup
// due time. Entries survive process restarts, unlike in-process timers.
type CleanupQueue struct {
	client *redis.Client
	key    string
}

// NewCleanupQueue constructs a CleanupQueue on the given key.
func NewCleanupQueue(client *redis.Client, key string) (*CleanupQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if key == "" {
		return nil, fmt.Errorf("queue key is required")
	}
	return &CleanupQueue{client: client, key: key}, nil
}

// Schedule records that jobID's artifact is due for cleanup at due.
// Rescheduling an already-queued job updates its due time.
func (q *CleanupQueue) Schedule(ctx context.Context, jobID string, due time.Time) error {
	err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: jobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	return nil
}

// PopDue removes and returns up to limit job IDs whose due time has passed.
// Consumers racing on the same entries is tolerable because artifact
// cleanup is idempotent.
func (q *CleanupQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read cleanup queue: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := q.client.ZRem(ctx, q.key, members...).Err(); err != nil {
		return nil, fmt.Errorf("dequeue cleanup entries: %w", err)
	}
	return ids, nil
}
