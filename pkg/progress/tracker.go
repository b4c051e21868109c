package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/models"
)

// Tracker reports progress for one long-running operation. All methods are
// safe for concurrent use. Once a terminal method (Complete, Fail, Cancel)
// has run, every later call is a no-op; checkpoint and event failures are
// logged and never fail the operation itself.
type Tracker struct {
	store  CheckpointStore
	events *bus.Bus
	cfg    *config.ProgressConfig
	logger *slog.Logger

	mu             sync.Mutex
	op             models.Operation
	lastCheckpoint time.Time
	done           bool
}

// NewTracker creates a tracker for the given operation. The caller fills
// OperationID, OperationType, CanvasID, SessionID and TotalSteps; StartedAt
// is stamped when zero so resumed operations keep their original start.
func NewTracker(op models.Operation, store CheckpointStore, events *bus.Bus, cfg *config.ProgressConfig, logger *slog.Logger) *Tracker {
	if cfg == nil {
		cfg = config.DefaultProgressConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now().UTC()
	if op.StartedAt.IsZero() {
		op.StartedAt = now
	}
	if op.UpdatedAt.IsZero() {
		op.UpdatedAt = op.StartedAt
	}
	return &Tracker{
		store:  store,
		events: events,
		cfg:    cfg,
		logger: logger.With("component", "progress", "operation_id", op.OperationID),
		op:     op,
	}
}

// Start persists the initial checkpoint so the operation shows up in the
// incomplete list immediately, and arms the time-based checkpoint cadence.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.checkpointLocked(ctx)
}

// Update advances the operation: it records the step, progress, message and
// any newly created cards, emits a progress_update event with an ETA, and
// checkpoints when the cadence says so (interval elapsed, or the cumulative
// card count crossed a multiple of the configured batch). Updates after a
// terminal call are no-ops.
func (t *Tracker) Update(ctx context.Context, step string, progress float64, message string, newCards ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || t.op.Cancelled {
		return
	}

	now := time.Now().UTC()
	t.op.CurrentStep = step
	t.op.Progress = clampProgress(progress)
	t.op.Message = message
	t.op.CardsCreated = append(t.op.CardsCreated, newCards...)
	t.op.UpdatedAt = now

	t.emit(bus.TopicProgressUpdate, bus.ProgressUpdatePayload{
		OperationID:   t.op.OperationID,
		OperationType: string(t.op.OperationType),
		CanvasID:      t.op.CanvasID,
		SessionID:     t.op.SessionID,
		Step:          step,
		Progress:      t.op.Progress,
		Message:       message,
		CardsCreated:  len(t.op.CardsCreated),
		EstimatedTime: t.estimateLocked(now),
		CanCancel:     true,
	})

	if t.shouldCheckpointLocked(now, len(newCards)) {
		t.checkpointLocked(ctx)
	}
}

// SetState stashes the operation's opaque resume blob. It is written with
// the next checkpoint, and always on failure.
func (t *Tracker) SetState(state json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.op.State = state
}

// Complete marks the operation finished, deletes its checkpoint and emits
// operation_complete.
func (t *Tracker) Complete(ctx context.Context, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.op.Progress = 1.0
	t.op.Message = message
	t.op.UpdatedAt = time.Now().UTC()

	if err := t.store.Delete(ctx, t.op.OperationID); err != nil {
		t.logger.Warn("failed to delete checkpoint on completion", "error", err)
	}
	t.emit(bus.TopicOperationComplete, bus.OperationCompletePayload{
		OperationID:   t.op.OperationID,
		OperationType: string(t.op.OperationType),
		CanvasID:      t.op.CanvasID,
		SessionID:     t.op.SessionID,
		Message:       message,
		CardsCreated:  t.op.CardsCreated,
	})
}

// Fail marks the operation failed, retains (and refreshes) its checkpoint
// for resume, and emits operation_failed.
func (t *Tracker) Fail(ctx context.Context, opErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.op.Message = opErr.Error()
	t.op.UpdatedAt = time.Now().UTC()

	t.checkpointLocked(ctx)
	t.emit(bus.TopicOperationFailed, bus.OperationFailedPayload{
		OperationID:   t.op.OperationID,
		OperationType: string(t.op.OperationType),
		CanvasID:      t.op.CanvasID,
		SessionID:     t.op.SessionID,
		Error:         opErr.Error(),
		CardsCreated:  t.op.CardsCreated,
	})
}

// Cancel flips the cancelled flag, persists it and emits
// operation_cancelled. The caller also cancels the operation's context;
// the flag makes any straggling Update a no-op.
func (t *Tracker) Cancel(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.op.Cancelled = true
	t.op.UpdatedAt = time.Now().UTC()

	t.checkpointLocked(ctx)
	t.emit(bus.TopicOperationCancelled, bus.OperationCancelledPayload{
		OperationID:   t.op.OperationID,
		OperationType: string(t.op.OperationType),
		CanvasID:      t.op.CanvasID,
		SessionID:     t.op.SessionID,
	})
}

// ID returns the tracked operation's id.
func (t *Tracker) ID() string {
	return t.op.OperationID
}

// Cancelled reports whether Cancel has run.
func (t *Tracker) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.op.Cancelled
}

// Snapshot returns a copy of the operation's current state.
func (t *Tracker) Snapshot() models.Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	op := t.op
	op.CardsCreated = append([]string(nil), t.op.CardsCreated...)
	op.State = append(json.RawMessage(nil), t.op.State...)
	return op
}

// estimateLocked derives the remaining seconds from the rate so far:
// (elapsed / progress) - elapsed. Nil until there is any progress.
func (t *Tracker) estimateLocked(now time.Time) *int {
	if t.op.Progress <= 0 {
		return nil
	}
	elapsed := now.Sub(t.op.StartedAt).Seconds()
	if elapsed <= 0 {
		return nil
	}
	remaining := int(elapsed/t.op.Progress - elapsed)
	return &remaining
}

func (t *Tracker) shouldCheckpointLocked(now time.Time, added int) bool {
	if t.cfg.CheckpointInterval > 0 && now.Sub(t.lastCheckpoint) >= t.cfg.CheckpointInterval {
		return true
	}
	if added <= 0 || t.cfg.CheckpointCards <= 0 {
		return false
	}
	n := len(t.op.CardsCreated)
	return n/t.cfg.CheckpointCards > (n-added)/t.cfg.CheckpointCards
}

func (t *Tracker) checkpointLocked(ctx context.Context) {
	op := t.op
	op.CardsCreated = append([]string(nil), t.op.CardsCreated...)
	if err := t.store.Save(ctx, &op); err != nil {
		t.logger.Warn("failed to save checkpoint", "error", err)
		return
	}
	t.lastCheckpoint = time.Now().UTC()
}

func (t *Tracker) emit(topic bus.Topic, payload any) {
	if t.events != nil {
		t.events.Emit(topic, payload)
	}
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
