package services

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

// fakeCanceler reports the ids it was asked about and cancels only the
// ones marked live.
type fakeCanceler struct {
	live  map[string]bool
	asked []string
}

func (f *fakeCanceler) CancelOperation(operationID string) bool {
	f.asked = append(f.asked, operationID)
	return f.live[operationID]
}

func newTestService(t *testing.T, canceler *fakeCanceler) (*OperationService, *progress.MemoryStore) {
	t.Helper()
	events := bus.New(slog.Default())
	t.Cleanup(events.Close)
	store := progress.NewMemoryStore()
	return NewOperationService(store, canceler, events, slog.Default()), store
}

func saveOp(t *testing.T, store *progress.MemoryStore, op models.Operation) {
	t.Helper()
	if op.StartedAt.IsZero() {
		op.StartedAt = time.Now().Add(-time.Minute)
	}
	if op.UpdatedAt.IsZero() {
		op.UpdatedAt = time.Now()
	}
	require.NoError(t, store.Save(context.Background(), &op))
}

func TestOperationService_ListIncomplete(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &fakeCanceler{})

	saveOp(t, store, models.Operation{
		OperationID: "op-1", OperationType: models.OperationTypeURLExtraction,
		CanvasID: "C1", Progress: 0.4,
	})
	saveOp(t, store, models.Operation{
		OperationID: "op-2", OperationType: models.OperationTypeCardGrowth,
		CanvasID: "C2", Progress: 0.7,
	})
	saveOp(t, store, models.Operation{
		OperationID: "op-3", OperationType: models.OperationTypeDeepResearch,
		CanvasID: "C1", Progress: 1.0,
	})

	ops, err := svc.ListIncomplete(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, ops, 2, "finished operations are not resumable")

	ops, err = svc.ListIncomplete(ctx, "C1", "")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "op-1", ops[0].OperationID)
}

func TestOperationService_Cancel_LiveOperation(t *testing.T) {
	canceler := &fakeCanceler{live: map[string]bool{"op-1": true}}
	svc, _ := newTestService(t, canceler)

	require.NoError(t, svc.Cancel(context.Background(), "op-1"))
	assert.Equal(t, []string{"op-1"}, canceler.asked)
}

func TestOperationService_Cancel_CheckpointedOperation(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &fakeCanceler{})

	saveOp(t, store, models.Operation{
		OperationID: "op-1", OperationType: models.OperationTypeURLExtraction,
		Progress: 0.5,
	})

	require.NoError(t, svc.Cancel(ctx, "op-1"))

	op, err := store.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.True(t, op.Cancelled)

	// Cancelled means terminal: a repeat cancel reports it finished.
	assert.ErrorIs(t, svc.Cancel(ctx, "op-1"), ErrOperationFinished)
}

func TestOperationService_Cancel_Finished(t *testing.T) {
	svc, store := newTestService(t, &fakeCanceler{})
	saveOp(t, store, models.Operation{
		OperationID: "op-1", OperationType: models.OperationTypeCardGrowth,
		Progress: 1.0,
	})

	assert.ErrorIs(t, svc.Cancel(context.Background(), "op-1"), ErrOperationFinished)
}

func TestOperationService_Cancel_Unknown(t *testing.T) {
	svc, _ := newTestService(t, &fakeCanceler{})
	assert.ErrorIs(t, svc.Cancel(context.Background(), "nope"), ErrNotFound)
}

func TestOperationService_Cancel_EmptyID(t *testing.T) {
	svc, _ := newTestService(t, &fakeCanceler{})
	err := svc.Cancel(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.True(t, IsValidationError(err))
}
