package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const groupName = "antcode-workers"

// RedisQueue implements Queue over Redis Streams (XADD/XREADGROUP/XACK/XPENDING
// /XCLAIM), the default for multi-Master, multi-Worker deployments.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func streamKey(namespace string) string     { return fmt.Sprintf("%s:task:ready", namespace) }
func deadLetterKey(namespace string) string { return fmt.Sprintf("%s:task:deadletter", namespace) }

func (q *RedisQueue) ensureGroup(ctx context.Context, stream string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, stream, groupName, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, namespace string, payloads [][]byte, priority int) ([]string, error) {
	stream := streamKey(namespace)
	if err := q.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{"payload": p, "priority": priority},
		}).Result()
		if err != nil {
			return ids, fmt.Errorf("failed to enqueue: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, namespace, consumer string, count int, timeout time.Duration) ([]QueuedItem, error) {
	stream := streamKey(namespace)
	if err := q.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    timeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	var items []QueuedItem
	for _, s := range res {
		for _, msg := range s.Messages {
			payload, _ := msg.Values["payload"].(string)
			items = append(items, QueuedItem{MsgID: msg.ID, Payload: []byte(payload)})
		}
	}
	return items, nil
}

func (q *RedisQueue) Ack(ctx context.Context, namespace string, msgIDs ...string) error {
	if len(msgIDs) == 0 {
		return nil
	}
	return q.rdb.XAck(ctx, streamKey(namespace), groupName, msgIDs...).Err()
}

func (q *RedisQueue) Requeue(ctx context.Context, namespace, msgID string, payload []byte, reason string) (string, error) {
	stream := streamKey(namespace)
	if payload == nil {
		msgs, err := q.rdb.XRange(ctx, stream, msgID, msgID).Result()
		if err != nil {
			return "", fmt.Errorf("failed to read message for requeue: %w", err)
		}
		if len(msgs) > 0 {
			original, _ := msgs[0].Values["payload"].(string)
			payload = []byte(original)
		}
	}
	newID, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"payload": payload, "requeue_reason": reason},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to requeue: %w", err)
	}
	if err := q.rdb.XAck(ctx, stream, groupName, msgID).Err(); err != nil {
		return newID, fmt.Errorf("failed to ack original message during requeue: %w", err)
	}
	return newID, nil
}

func (q *RedisQueue) Reclaim(ctx context.Context, namespace, consumer string, minIdle time.Duration, count int) ([]QueuedItem, error) {
	stream := streamKey(namespace)
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  groupName,
		Start:  "-",
		End:    "+",
		Count:  int64(count),
		Idle:   minIdle,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}
	claimed, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    groupName,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim: %w", err)
	}
	deliveryCounts := make(map[string]int64, len(pending))
	for _, p := range pending {
		deliveryCounts[p.ID] = p.RetryCount
	}
	items := make([]QueuedItem, 0, len(claimed))
	for _, msg := range claimed {
		payload, _ := msg.Values["payload"].(string)
		items = append(items, QueuedItem{
			MsgID:         msg.ID,
			Payload:       []byte(payload),
			// XPENDING reported the count before XCLAIM incremented it.
			DeliveryCount: int(deliveryCounts[msg.ID]) + 1,
		})
	}
	return items, nil
}

func (q *RedisQueue) MoveToDeadLetter(ctx context.Context, namespace string, msgIDs ...string) error {
	stream := streamKey(namespace)
	for _, id := range msgIDs {
		msgs, err := q.rdb.XRange(ctx, stream, id, id).Result()
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if _, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
				Stream: deadLetterKey(namespace),
				Values: m.Values,
			}).Result(); err != nil {
				return err
			}
		}
		if err := q.rdb.XAck(ctx, stream, groupName, id).Err(); err != nil {
			return err
		}
		if err := q.rdb.XDel(ctx, stream, id).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Stats(ctx context.Context, namespace string) (Stats, error) {
	stream := streamKey(namespace)
	length, err := q.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return Stats{}, err
	}
	dlLen, err := q.rdb.XLen(ctx, deadLetterKey(namespace)).Result()
	if err != nil {
		return Stats{}, err
	}
	pending, err := q.rdb.XPending(ctx, stream, groupName).Result()
	if err != nil && err != redis.Nil {
		return Stats{}, err
	}
	var processing int64
	if pending != nil {
		processing = pending.Count
	}
	return Stats{Pending: length - processing, Processing: processing, DeadLetter: dlLen}, nil
}
