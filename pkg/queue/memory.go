package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pendingItem struct {
	item          QueuedItem
	consumer      string
	claimedAt     time.Time
	deliveryCount int
}

type namespaceQueue struct {
	pending    []QueuedItem
	processing map[string]*pendingItem
	deadLetter []QueuedItem
}

// MemoryQueue implements Queue entirely in-process, grounded on the source's
// InMemoryCrawlQueueBackend: one FIFO per namespace plus a processing set
// supporting idle-based reclaim. Suitable for single-process development.
type MemoryQueue struct {
	mu  sync.Mutex
	ns  map[string]*namespaceQueue
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{ns: make(map[string]*namespaceQueue)}
}

func (q *MemoryQueue) get(namespace string) *namespaceQueue {
	nq, ok := q.ns[namespace]
	if !ok {
		nq = &namespaceQueue{processing: make(map[string]*pendingItem)}
		q.ns[namespace] = nq
	}
	return nq
}

func (q *MemoryQueue) Enqueue(ctx context.Context, namespace string, payloads [][]byte, priority int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	nq := q.get(namespace)
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		id := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
		nq.pending = append(nq.pending, QueuedItem{MsgID: id, Payload: p, Priority: priority})
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, namespace, consumer string, count int, timeout time.Duration) ([]QueuedItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	nq := q.get(namespace)

	// Highest priority first, FIFO within a priority band.
	sortByPriorityDesc(nq.pending)

	var out []QueuedItem
	remaining := nq.pending[:0]
	for _, item := range nq.pending {
		if len(out) >= count {
			remaining = append(remaining, item)
			continue
		}
		nq.processing[item.MsgID] = &pendingItem{item: item, consumer: consumer, claimedAt: time.Now(), deliveryCount: 1}
		out = append(out, item)
	}
	nq.pending = remaining
	return out, nil
}

func sortByPriorityDesc(items []QueuedItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Priority > items[j-1].Priority; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, namespace string, msgIDs ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	nq := q.get(namespace)
	for _, id := range msgIDs {
		delete(nq.processing, id)
	}
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, namespace, msgID string, payload []byte, reason string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	nq := q.get(namespace)
	if p, ok := nq.processing[msgID]; ok && payload == nil {
		payload = p.item.Payload
	}
	delete(nq.processing, msgID)
	newID := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	nq.pending = append(nq.pending, QueuedItem{MsgID: newID, Payload: payload})
	return newID, nil
}

func (q *MemoryQueue) Reclaim(ctx context.Context, namespace, consumer string, minIdle time.Duration, count int) ([]QueuedItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	nq := q.get(namespace)
	now := time.Now()

	var reclaimed []QueuedItem
	for id, p := range nq.processing {
		if len(reclaimed) >= count {
			break
		}
		if now.Sub(p.claimedAt) < minIdle {
			continue
		}
		delete(nq.processing, id)
		p.deliveryCount++
		p.item.DeliveryCount = p.deliveryCount
		nq.pending = append(nq.pending, p.item)
		reclaimed = append(reclaimed, p.item)
	}
	return reclaimed, nil
}

func (q *MemoryQueue) MoveToDeadLetter(ctx context.Context, namespace string, msgIDs ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	nq := q.get(namespace)
	for _, id := range msgIDs {
		if p, ok := nq.processing[id]; ok {
			nq.deadLetter = append(nq.deadLetter, p.item)
			delete(nq.processing, id)
		}
	}
	return nil
}

func (q *MemoryQueue) Stats(ctx context.Context, namespace string) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	nq := q.get(namespace)
	return Stats{
		Pending:    int64(len(nq.pending)),
		Processing: int64(len(nq.processing)),
		DeadLetter: int64(len(nq.deadLetter)),
	}, nil
}
