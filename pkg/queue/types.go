// Package queue runs long-running operations (URL extraction, card
// growth, deep research, learning clusters) on a bounded worker pool.
//
// The pool owns each operation's progress tracker and its terminal
// transition: a task that returns nil is completed, a task that returns
// an error is failed with the checkpoint retained for resume. Tasks must
// honor ctx cancellation between steps; cooperative cancellation arrives
// through the pool's registry, either from the API cancel endpoint or
// from a forced shutdown.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

// Sentinel errors for pool operations.
var (
	// ErrNotStarted indicates Execute or Submit ran before Start.
	ErrNotStarted = errors.New("worker pool not started")

	// ErrStopped indicates the pool is shutting down and accepts no new work.
	ErrStopped = errors.New("worker pool stopped")

	// ErrAtCapacity indicates the in-flight operation limit has been reached.
	ErrAtCapacity = errors.New("operation queue at capacity")

	// ErrCancelled indicates the operation was cancelled through the registry.
	ErrCancelled = errors.New("operation cancelled")
)

// Task is the unit of work the pool runs. It receives a context bounded
// by the operation timeout and a tracker for progress reporting. A task
// may call tracker.Complete itself to attach a richer terminal message;
// the pool's generic fallback is a no-op once a terminal transition ran.
//
// Tasks must not invoke the pool themselves: a task occupying a worker
// while waiting for another submission deadlocks at capacity.
type Task = func(ctx context.Context, tracker *progress.Tracker) error

// submission is one queued operation, synchronous or background.
type submission struct {
	ctx  context.Context
	op   models.Operation
	task Task
	done chan error // buffered(1); nil for background submissions
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveWorkers    int            `json:"active_workers"`
	ActiveOperations []string       `json:"active_operations,omitempty"`
	QueueDepth       int            `json:"queue_depth"`
	MaxConcurrent    int            `json:"max_concurrent"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                  string    `json:"id"`
	Status              string    `json:"status"` // "idle" or "working"
	CurrentOperationID  string    `json:"current_operation_id,omitempty"`
	OperationsProcessed int       `json:"operations_processed"`
	LastActivity        time.Time `json:"last_activity"`
}
