package clicks

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/wb-go/wbf/redis"
)

const (
	pendingListKey    = "clicks:pending"
	liveCounterPrefix = "clicks:live:"
)

// RedisBuffer is the PendingClickBuffer: a Redis list of serialized click
// payloads plus per-link live counters. Both carry a TTL so the buffer
// cannot grow without bound while no processor is draining it.
type RedisBuffer struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisBuffer(rdb *redis.Client, ttl time.Duration) *RedisBuffer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisBuffer{
		rdb: rdb,
		ttl: ttl,
	}
}

// Ping reports whether the buffering backend is reachable.
func (b *RedisBuffer) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBuffer) Push(ctx context.Context, payload []byte) error {
	if err := b.rdb.Client.RPush(ctx, pendingListKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to append pending click: %w", err)
	}
	// Refresh the TTL on every append; the list must outlive a stalled
	// processor but not an abandoned deployment.
	if err := b.rdb.Client.Expire(ctx, pendingListKey, b.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh pending buffer ttl: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest pending payload. It returns
// (nil, nil) when the buffer is empty. LPOP is atomic per item, so
// overlapping processor runs cannot claim the same entry.
func (b *RedisBuffer) Pop(ctx context.Context) ([]byte, error) {
	data, err := b.rdb.Client.LPop(ctx, pendingListKey).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop pending click: %w", err)
	}
	return data, nil
}

// Requeue pushes payloads back onto the buffer after a failed bulk
// persist. Order within the requeued slice is preserved at the front of
// the list.
func (b *RedisBuffer) Requeue(ctx context.Context, payloads [][]byte) error {
	for i := len(payloads) - 1; i >= 0; i-- {
		if err := b.rdb.Client.LPush(ctx, pendingListKey, payloads[i]).Err(); err != nil {
			return fmt.Errorf("failed to requeue pending click: %w", err)
		}
	}
	return nil
}

func (b *RedisBuffer) Len(ctx context.Context) (int64, error) {
	n, err := b.rdb.Client.LLen(ctx, pendingListKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read pending buffer length: %w", err)
	}
	return n, nil
}

// IncrLive bumps the per-link live counter consulted by stats reads while
// durable increments wait for the next batch flush.
func (b *RedisBuffer) IncrLive(ctx context.Context, linkID int64) error {
	key := liveCounterKey(linkID)
	if err := b.rdb.Client.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to increment live counter for link %d: %w", linkID, err)
	}
	if err := b.rdb.Client.Expire(ctx, key, b.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh live counter ttl for link %d: %w", linkID, err)
	}
	return nil
}

// DecrLive settles the live counter after a batch flush made the clicks
// durable.
func (b *RedisBuffer) DecrLive(ctx context.Context, linkID int64, n int64) error {
	if n <= 0 {
		return nil
	}
	if err := b.rdb.Client.DecrBy(ctx, liveCounterKey(linkID), n).Err(); err != nil {
		return fmt.Errorf("failed to settle live counter for link %d: %w", linkID, err)
	}
	return nil
}

func (b *RedisBuffer) Live(ctx context.Context, linkID int64) (int64, error) {
	n, err := b.rdb.Client.Get(ctx, liveCounterKey(linkID)).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read live counter for link %d: %w", linkID, err)
	}
	return n, nil
}

func liveCounterKey(linkID int64) string {
	return fmt.Sprintf("%s%d", liveCounterPrefix, linkID)
}
