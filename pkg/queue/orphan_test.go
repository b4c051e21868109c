package queue

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

func seedCheckpoint(t *testing.T, store *progress.MemoryStore, id string, progressVal float64, updated time.Time) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), &models.Operation{
		OperationID:   id,
		OperationType: models.OperationTypeURLExtraction,
		CanvasID:      "canvas-1",
		Progress:      progressVal,
		CardsCreated:  []string{"card-1"},
		StartedAt:     updated.Add(-time.Minute),
		UpdatedAt:     updated,
	}))
}

func TestRecoverOrphansFailsStaleCheckpoints(t *testing.T) {
	store := progress.NewMemoryStore()
	events := bus.New(nil)
	defer events.Close()
	pool := NewWorkerPool(store, events, testQueueConfig(), nil, slog.Default())
	failures := capture(t, events, bus.TopicOperationFailed)

	now := time.Now().UTC()
	seedCheckpoint(t, store, "op-stale", 0.4, now.Add(-2*time.Hour))
	seedCheckpoint(t, store, "op-fresh", 0.6, now)

	recovered, err := pool.RecoverOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	// The stale checkpoint is marked failed but kept for resume.
	stale, err := store.Get(context.Background(), "op-stale")
	require.NoError(t, err)
	assert.Contains(t, stale.Message, "orphaned: no progress since")
	assert.True(t, stale.Incomplete())
	assert.True(t, stale.UpdatedAt.After(now.Add(-time.Minute)))

	// The fresh checkpoint is untouched.
	fresh, err := store.Get(context.Background(), "op-fresh")
	require.NoError(t, err)
	assert.Empty(t, fresh.Message)

	require.Eventually(t, func() bool { return failures.len() == 1 }, time.Second, 10*time.Millisecond)
	payload := failures.first().Payload.(bus.OperationFailedPayload)
	assert.Equal(t, "op-stale", payload.OperationID)
	assert.Equal(t, []string{"card-1"}, payload.CardsCreated)
}

func TestRecoverOrphansSkipsActiveOperations(t *testing.T) {
	store := progress.NewMemoryStore()
	pool := NewWorkerPool(store, nil, testQueueConfig(), nil, slog.Default())

	seedCheckpoint(t, store, "op-active", 0.4, time.Now().UTC().Add(-2*time.Hour))
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.RegisterOperation("op-active", cancel)

	recovered, err := pool.RecoverOrphans(context.Background())
	require.NoError(t, err)
	assert.Zero(t, recovered)

	op, err := store.Get(context.Background(), "op-active")
	require.NoError(t, err)
	assert.Empty(t, op.Message)
}

func TestRecoverOrphansEmptyStore(t *testing.T) {
	pool := NewWorkerPool(progress.NewMemoryStore(), nil, testQueueConfig(), nil, slog.Default())

	recovered, err := pool.RecoverOrphans(context.Background())
	require.NoError(t, err)
	assert.Zero(t, recovered)
}

func TestRecoverOrphansFeedsHealthMetrics(t *testing.T) {
	store := progress.NewMemoryStore()
	pool := NewWorkerPool(store, nil, testQueueConfig(), nil, slog.Default())

	seedCheckpoint(t, store, "op-stale", 0.2, time.Now().UTC().Add(-3*time.Hour))
	_, err := pool.RecoverOrphans(context.Background())
	require.NoError(t, err)

	health := pool.Health()
	assert.Equal(t, 1, health.OrphansRecovered)
	assert.False(t, health.LastOrphanScan.IsZero())
}
