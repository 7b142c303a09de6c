package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DueItem is one scheduled retry awaiting its due time.
type DueItem struct {
	TaskID     string    `json:"task_id"`
	RunID      string    `json:"run_id"`
	RetryCount int       `json:"retry_count"`
	DueAt      time.Time `json:"due_at"`
}

// Queue is a Redis sorted-set due-queue: ZADD schedules an item scored by its
// due Unix timestamp, ZRANGEBYSCORE lets the loop pop everything due by now
// without a dedicated consumer group.
type Queue struct {
	rdb *redis.Client
	key string
}

func NewQueue(rdb *redis.Client, namespace string) *Queue {
	return &Queue{rdb: rdb, key: fmt.Sprintf("%s:retry:due", namespace)}
}

func (q *Queue) Schedule(ctx context.Context, item DueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("retry: encode due item: %w", err)
	}
	return q.rdb.ZAdd(ctx, q.key, redis.Z{Score: float64(item.DueAt.Unix()), Member: payload}).Err()
}

// PopDue removes and returns up to limit items due at or before now.
func (q *Queue) PopDue(ctx context.Context, now time.Time, limit int64) ([]DueItem, error) {
	members, err := q.rdb.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("retry: pop due: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	removeArgs := make([]interface{}, len(members))
	for i, m := range members {
		removeArgs[i] = m
	}
	if err := q.rdb.ZRem(ctx, q.key, removeArgs...).Err(); err != nil {
		return nil, fmt.Errorf("retry: remove due: %w", err)
	}

	items := make([]DueItem, 0, len(members))
	for _, m := range members {
		var item DueItem
		if err := json.Unmarshal([]byte(m), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.key).Result()
}
