// Package queue implements the ready-task work queue abstraction (spec §4.10's
// CrawlQueueBackend, unified with the scheduler's per-worker ready streams —
// both are the same interface over different namespaces per the spec's
// directive to merge the two overlapping queue abstractions).
package queue

import (
	"context"
	"time"
)

// QueuedItem is one enqueued unit of work with its opaque delivery receipt.
type QueuedItem struct {
	MsgID      string
	Payload    []byte
	Priority   int
	DeliveryCount int
}

// Stats reports queue occupancy for a namespace.
type Stats struct {
	Pending   int64
	Processing int64
	DeadLetter int64
}

// Queue is the work-queue contract. Implementations must guarantee at-most-one
// delivery per consumer between Dequeue and Ack (invariant 3 of the spec).
type Queue interface {
	// Enqueue adds tasks to namespace's ready stream at priority, returning
	// their message IDs.
	Enqueue(ctx context.Context, namespace string, payloads [][]byte, priority int) ([]string, error)

	// Dequeue reads up to count items for consumer, blocking up to timeout.
	Dequeue(ctx context.Context, namespace, consumer string, count int, timeout time.Duration) ([]QueuedItem, error)

	// Ack acknowledges successful (or rejected-but-handled) processing of msgIDs.
	Ack(ctx context.Context, namespace string, msgIDs ...string) error

	// Requeue re-adds a rejected item to the same stream, annotated with a
	// reason, and acks the original message ID — preserving at-least-once
	// delivery with requeue (invariant 3). A nil payload re-adds the original
	// message's payload.
	Requeue(ctx context.Context, namespace, msgID string, payload []byte, reason string) (string, error)

	// Reclaim returns items idle longer than minIdle in the processing set,
	// incrementing their delivery count; past a configurable ceiling the
	// caller should route them to the dead letter list via MoveToDeadLetter.
	Reclaim(ctx context.Context, namespace, consumer string, minIdle time.Duration, count int) ([]QueuedItem, error)

	// MoveToDeadLetter permanently removes msgIDs from the active stream and
	// records them on the dead-letter list.
	MoveToDeadLetter(ctx context.Context, namespace string, msgIDs ...string) error

	Stats(ctx context.Context, namespace string) (Stats, error)
}
