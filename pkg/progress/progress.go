// Package progress implements the per-batch ProgressStore abstraction (spec
// §4.10): arbitrary field/value progress data, a checkpoint snapshot, and
// active-Worker registration with TTL-based expiry.
package progress

import "context"

const DefaultWorkerTTLSeconds = 60

// Store is the progress backend contract, scoped by project and batch.
type Store interface {
	GetProgress(ctx context.Context, project, batch string) (map[string]any, error)
	SetProgress(ctx context.Context, project, batch string, data map[string]any) error
	UpdateProgress(ctx context.Context, project, batch string, updates map[string]any) error

	// IncrementProgress atomically adds amount to field, returning its new
	// value. Missing fields start from zero.
	IncrementProgress(ctx context.Context, project, batch, field string, amount int64) (int64, error)

	RegisterWorker(ctx context.Context, project, batch, workerID string, ttlSeconds int) error
	// ActiveWorkers returns workers registered within their TTL, evicting
	// any it finds expired along the way.
	ActiveWorkers(ctx context.Context, project, batch string) ([]string, error)
	UnregisterWorker(ctx context.Context, project, batch, workerID string) error

	SaveCheckpoint(ctx context.Context, project, batch string, data map[string]any) error
	LoadCheckpoint(ctx context.Context, project, batch string) (map[string]any, error)
	DeleteCheckpoint(ctx context.Context, project, batch string) error

	// Clear discards progress, checkpoint, and worker-registration data for
	// the batch.
	Clear(ctx context.Context, project, batch string) error
}
