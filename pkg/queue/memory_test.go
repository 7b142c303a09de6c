package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryQueueEnqueueDequeueAck(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	ids, err := q.Enqueue(ctx, "p1", [][]byte{[]byte("a"), []byte("b")}, 5)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	items, err := q.Dequeue(ctx, "p1", "c1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 2)

	stats, err := q.Stats(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Pending)
	require.Equal(t, int64(2), stats.Processing)

	require.NoError(t, q.Ack(ctx, "p1", items[0].MsgID, items[1].MsgID))

	stats, err = q.Stats(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Processing)
}

func TestMemoryQueueReclaimIncrementsDeliveryCount(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "p1", [][]byte{[]byte("a")}, 5)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "p1", "c1", 1, time.Second)
	require.NoError(t, err)

	reclaimed, err := q.Reclaim(ctx, "p1", "c2", 0, 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	require.Equal(t, 2, reclaimed[0].DeliveryCount)
}

func TestMemoryQueuePriorityOrdering(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "p1", [][]byte{[]byte("low")}, 1)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "p1", [][]byte{[]byte("high")}, 9)
	require.NoError(t, err)

	items, err := q.Dequeue(ctx, "p1", "c1", 1, time.Second)
	require.NoError(t, err)
	require.Equal(t, "high", string(items[0].Payload))
}
