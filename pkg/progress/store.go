// Package progress tracks long-running operations and persists their
// checkpoints.
//
// A Tracker owns one operation: Update advances it and emits
// progress_update events with an ETA, Complete/Fail/Cancel emit the
// terminal event. Checkpoints are written on a cadence (elapsed time or
// cards created) so a crashed operation can be resumed; completion deletes
// the checkpoint, failure retains it.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/viacanvas/intelligence/pkg/models"
)

// ErrNotFound is returned when no checkpoint exists for an operation id.
var ErrNotFound = errors.New("progress: checkpoint not found")

// CheckpointStore persists operation checkpoints. Implementations must be
// safe for concurrent use.
type CheckpointStore interface {
	// Save inserts or replaces the checkpoint keyed by OperationID.
	Save(ctx context.Context, op *models.Operation) error
	// Get returns the checkpoint or ErrNotFound.
	Get(ctx context.Context, operationID string) (*models.Operation, error)
	// Delete removes the checkpoint. Deleting a missing id is not an error.
	Delete(ctx context.Context, operationID string) error
	// ListIncomplete returns resumable operations (progress < 1.0 and not
	// cancelled), newest first. Empty canvasID/sessionID match everything.
	ListIncomplete(ctx context.Context, canvasID, sessionID string) ([]*models.Operation, error)
	// DeleteOlderThan removes checkpoints not updated since the cutoff and
	// reports how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
