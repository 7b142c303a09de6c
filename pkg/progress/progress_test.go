package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func runStoreSuite(t *testing.T, newStore func() Store) {
	ctx := context.Background()

	t.Run("set and get progress", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.SetProgress(ctx, "p1", "b1", map[string]any{"crawled": float64(10)}))

		got, err := s.GetProgress(ctx, "p1", "b1")
		require.NoError(t, err)
		require.Equal(t, float64(10), got["crawled"])
	})

	t.Run("update merges fields", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.SetProgress(ctx, "p1", "b1", map[string]any{"a": float64(1)}))
		require.NoError(t, s.UpdateProgress(ctx, "p1", "b1", map[string]any{"b": float64(2)}))

		got, err := s.GetProgress(ctx, "p1", "b1")
		require.NoError(t, err)
		require.Equal(t, float64(1), got["a"])
		require.Equal(t, float64(2), got["b"])
	})

	t.Run("increment is additive and atomic-looking from the caller's view", func(t *testing.T) {
		s := newStore()
		n, err := s.IncrementProgress(ctx, "p1", "b2", "count", 3)
		require.NoError(t, err)
		require.Equal(t, int64(3), n)

		n, err = s.IncrementProgress(ctx, "p1", "b2", "count", 4)
		require.NoError(t, err)
		require.Equal(t, int64(7), n)
	})

	t.Run("worker registration expires by ttl", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.RegisterWorker(ctx, "p1", "b3", "w1", 1))

		active, err := s.ActiveWorkers(ctx, "p1", "b3")
		require.NoError(t, err)
		require.Contains(t, active, "w1")

		time.Sleep(1200 * time.Millisecond)

		active, err = s.ActiveWorkers(ctx, "p1", "b3")
		require.NoError(t, err)
		require.NotContains(t, active, "w1")
	})

	t.Run("unregister worker removes it immediately", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.RegisterWorker(ctx, "p1", "b4", "w1", 60))
		require.NoError(t, s.UnregisterWorker(ctx, "p1", "b4", "w1"))

		active, err := s.ActiveWorkers(ctx, "p1", "b4")
		require.NoError(t, err)
		require.NotContains(t, active, "w1")
	})

	t.Run("checkpoint save load delete", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.SaveCheckpoint(ctx, "p1", "b5", map[string]any{"offset": float64(42)}))

		cp, err := s.LoadCheckpoint(ctx, "p1", "b5")
		require.NoError(t, err)
		require.Equal(t, float64(42), cp["offset"])

		require.NoError(t, s.DeleteCheckpoint(ctx, "p1", "b5"))
		cp, err = s.LoadCheckpoint(ctx, "p1", "b5")
		require.NoError(t, err)
		require.Empty(t, cp)
	})

	t.Run("clear wipes progress checkpoint and workers", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.SetProgress(ctx, "p1", "b6", map[string]any{"a": float64(1)}))
		require.NoError(t, s.SaveCheckpoint(ctx, "p1", "b6", map[string]any{"x": float64(1)}))
		require.NoError(t, s.RegisterWorker(ctx, "p1", "b6", "w1", 60))

		require.NoError(t, s.Clear(ctx, "p1", "b6"))

		got, err := s.GetProgress(ctx, "p1", "b6")
		require.NoError(t, err)
		require.Empty(t, got)

		cp, err := s.LoadCheckpoint(ctx, "p1", "b6")
		require.NoError(t, err)
		require.Empty(t, cp)

		active, err := s.ActiveWorkers(ctx, "p1", "b6")
		require.NoError(t, err)
		require.NotContains(t, active, "w1")
	})
}

func TestMemoryProgress(t *testing.T) {
	runStoreSuite(t, func() Store { return NewMemoryProgress() })
}

func TestRedisProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	runStoreSuite(t, func() Store {
		return NewRedisProgress(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	})
}
