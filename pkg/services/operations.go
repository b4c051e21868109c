package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

// Canceler cancels a live operation by id. Implemented by queue.WorkerPool.
type Canceler interface {
	CancelOperation(operationID string) bool
}

// OperationService surfaces operation checkpoints for the resume UX and
// routes cooperative cancellation.
type OperationService struct {
	store  progress.CheckpointStore
	pool   Canceler
	events *bus.Bus
	logger *slog.Logger

	// undecorated, for the trackers the service creates
	baseLogger *slog.Logger
}

// NewOperationService wires the service to the checkpoint store and the
// worker pool's cancellation registry.
func NewOperationService(store progress.CheckpointStore, pool Canceler, events *bus.Bus, logger *slog.Logger) *OperationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationService{
		store:      store,
		pool:       pool,
		events:     events,
		logger:     logger.With("component", "operations"),
		baseLogger: logger,
	}
}

// ListIncomplete returns resumable operations, newest first. Empty filters
// match all canvases and sessions.
func (s *OperationService) ListIncomplete(ctx context.Context, canvasID, sessionID string) ([]*models.Operation, error) {
	ops, err := s.store.ListIncomplete(ctx, canvasID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing incomplete operations: %w", err)
	}
	return ops, nil
}

// Cancel cooperatively cancels an operation. A live operation is cancelled
// through the worker pool; a checkpointed one no longer running is marked
// cancelled directly so it drops off the resume list. Cancelling an
// operation that already finished returns ErrOperationFinished.
func (s *OperationService) Cancel(ctx context.Context, operationID string) error {
	if operationID == "" {
		return NewValidationError("operation_id", "must not be empty")
	}

	if s.pool != nil && s.pool.CancelOperation(operationID) {
		return nil
	}

	op, err := s.store.Get(ctx, operationID)
	if errors.Is(err, progress.ErrNotFound) {
		return fmt.Errorf("operation %s: %w", operationID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("loading operation %s: %w", operationID, err)
	}
	if !op.Incomplete() {
		return fmt.Errorf("operation %s: %w", operationID, ErrOperationFinished)
	}

	tracker := progress.NewTracker(*op, s.store, s.events, nil, s.baseLogger)
	tracker.Cancel(ctx)
	s.logger.Info("cancelled checkpointed operation", "operation_id", operationID)
	return nil
}
