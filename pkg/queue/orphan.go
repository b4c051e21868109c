package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/viacanvas/intelligence/pkg/progress"
)

// orphanState tracks orphan recovery metrics (thread-safe).
type orphanState struct {
	mu        sync.Mutex
	lastScan  time.Time
	recovered int
}

// RecoverOrphans performs a one-time scan for checkpoints left behind by
// a previous run. Incomplete checkpoints older than the orphan cutoff are
// marked failed through a tracker, which refreshes the checkpoint and
// emits operation_failed; newer ones are left untouched so the resume UX
// can list them. Called once during startup, before the pool begins
// processing. Returns how many operations were marked failed.
func (p *WorkerPool) RecoverOrphans(ctx context.Context) (int, error) {
	ops, err := p.store.ListIncomplete(ctx, "", "")
	if err != nil {
		return 0, fmt.Errorf("listing incomplete operations: %w", err)
	}

	cutoff := time.Now().UTC().Add(-p.cfg.OrphanCutoff)
	recovered := 0
	for _, op := range ops {
		if p.isActive(op.OperationID) {
			continue
		}
		if op.UpdatedAt.After(cutoff) {
			p.logger.Info("keeping resumable operation",
				"operation_id", op.OperationID,
				"operation_type", op.OperationType,
				"progress", op.Progress)
			continue
		}

		stalled := op.UpdatedAt
		tracker := progress.NewTracker(*op, p.store, p.events, p.progressCfg, p.baseLogger)
		tracker.Fail(ctx, fmt.Errorf("orphaned: no progress since %s", stalled.Format(time.RFC3339)))
		p.logger.Warn("orphaned operation marked failed",
			"operation_id", op.OperationID,
			"operation_type", op.OperationType,
			"last_progress", stalled.Format(time.RFC3339))
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastScan = time.Now().UTC()
	p.orphans.recovered += recovered
	p.orphans.mu.Unlock()

	return recovered, nil
}

// isActive reports whether the operation is currently in the registry.
func (p *WorkerPool) isActive(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.active[id]
	return ok
}
