// Package redisqueue implements the escalation queue on Redis.
//
// Ready items live in a list (LPUSH/BRPOP), delayed retries in a sorted set
// scored by due time in unix milliseconds, and buried items in a second list.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bissquit/wastewatch/internal/escalation"
	"github.com/redis/go-redis/v9"
)

const promoteBatch = 100

// promoteScript moves due members from the delayed set to the ready list atomically.
var promoteScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, item in ipairs(items) do
  redis.call('ZREM', KEYS[1], item)
  redis.call('LPUSH', KEYS[2], item)
end
return #items
`)

// Queue is a Redis-backed escalation.Queue.
type Queue struct {
	client     redis.Cmdable
	readyKey   string
	delayedKey string
	failedKey  string
	now        func() time.Time
}

// New creates a queue using key as the prefix for its Redis keys.
func New(client redis.Cmdable, key string) *Queue {
	return &Queue{
		client:     client,
		readyKey:   key + ":ready",
		delayedKey: key + ":delayed",
		failedKey:  key + ":failed",
		now:        time.Now,
	}
}

// Enqueue pushes an item onto the ready list.
func (q *Queue) Enqueue(ctx context.Context, item *escalation.Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal escalation item: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey, payload).Err(); err != nil {
		return fmt.Errorf("push escalation item: %w", err)
	}
	return nil
}

// Dequeue promotes due retries, then blocks up to wait for a ready item.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*escalation.Item, error) {
	if err := q.promote(ctx); err != nil {
		return nil, err
	}

	result, err := q.client.BRPop(ctx, wait, q.readyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop escalation item: %w", err)
	}

	// result[0] is the key, result[1] the value.
	var item escalation.Item
	if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
		slog.Error("dropping malformed escalation item", "error", err)
		if buryErr := q.client.LPush(ctx, q.failedKey, result[1]).Err(); buryErr != nil {
			slog.Error("failed to bury malformed escalation item", "error", buryErr)
		}
		return nil, nil
	}
	return &item, nil
}

func (q *Queue) promote(ctx context.Context) error {
	due := strconv.FormatInt(q.now().UnixMilli(), 10)
	if err := promoteScript.Run(ctx, q.client, []string{q.delayedKey, q.readyKey}, due, promoteBatch).Err(); err != nil {
		return fmt.Errorf("promote delayed escalations: %w", err)
	}
	return nil
}

// Schedule adds item to the delayed set, due at at.
func (q *Queue) Schedule(ctx context.Context, item *escalation.Item, at time.Time) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal escalation item: %w", err)
	}
	z := redis.Z{Score: float64(at.UnixMilli()), Member: string(payload)}
	if err := q.client.ZAdd(ctx, q.delayedKey, z).Err(); err != nil {
		return fmt.Errorf("schedule escalation item: %w", err)
	}
	return nil
}

// Bury pushes item onto the failed list.
func (q *Queue) Bury(ctx context.Context, item *escalation.Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal escalation item: %w", err)
	}
	if err := q.client.LPush(ctx, q.failedKey, payload).Err(); err != nil {
		return fmt.Errorf("bury escalation item: %w", err)
	}
	return nil
}

// Stats returns list and set sizes.
func (q *Queue) Stats(ctx context.Context) (escalation.QueueStats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	failed := pipe.LLen(ctx, q.failedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return escalation.QueueStats{}, fmt.Errorf("read queue stats: %w", err)
	}
	return escalation.QueueStats{
		Ready:   ready.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

var _ escalation.Queue = (*Queue)(nil)
