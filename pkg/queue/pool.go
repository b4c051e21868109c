package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

// WorkerPool runs operations on a fixed set of worker goroutines and keeps
// a cancellation registry of everything in flight. Execute blocks the
// caller until the operation finishes; Submit queues it and returns.
type WorkerPool struct {
	store       progress.CheckpointStore
	events      *bus.Bus
	cfg         *config.QueueConfig
	progressCfg *config.ProgressConfig
	logger      *slog.Logger
	baseLogger  *slog.Logger // undecorated, for the trackers the pool creates

	tasks    chan *submission
	sem      chan struct{} // bounds queued + running submissions
	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	tasksWG  sync.WaitGroup

	mu      sync.RWMutex
	active  map[string]*activeOperation
	started bool
	stopped bool

	orphans orphanState
}

// activeOperation is one registry entry. The tracker is nil for
// operations registered from outside the pool's own run path.
type activeOperation struct {
	cancel  context.CancelFunc
	tracker *progress.Tracker
}

// NewWorkerPool creates a pool over the given checkpoint store and event
// bus. progressCfg sets the tracker checkpoint cadence; nil uses defaults.
func NewWorkerPool(store progress.CheckpointStore, events *bus.Bus, cfg *config.QueueConfig, progressCfg *config.ProgressConfig, logger *slog.Logger) *WorkerPool {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		store:       store,
		events:      events,
		cfg:         cfg,
		progressCfg: progressCfg,
		logger:      logger.With("component", "queue"),
		baseLogger:  logger,
		tasks:       make(chan *submission, cfg.MaxConcurrentOperations),
		sem:         make(chan struct{}, cfg.MaxConcurrentOperations),
		workers:     make([]*worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		active:      make(map[string]*activeOperation),
	}
}

// Start spawns the worker goroutines. Workers run until Stop; a separate
// shutdown signal would let queued submissions strand behind dead
// workers. It is safe to call multiple times; subsequent calls are
// no-ops.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		p.logger.Warn("worker pool already started, ignoring duplicate start")
		return nil
	}
	if p.stopped {
		return ErrStopped
	}
	p.started = true

	for i := 0; i < p.cfg.WorkerCount; i++ {
		w := newWorker(fmt.Sprintf("worker-%d", i), p)
		p.workers = append(p.workers, w)
		w.start()
	}

	p.logger.Info("worker pool started",
		"workers", p.cfg.WorkerCount,
		"max_concurrent", p.cfg.MaxConcurrentOperations)
	return nil
}

// Stop drains the pool: no new submissions are accepted, active
// operations get up to GracefulShutdownTimeout to finish, and stragglers
// are then context-cancelled so they fail with their checkpoint retained.
// It is safe to call multiple times.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stopCh) })

	drained := make(chan struct{})
	go func() {
		p.tasksWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		active := p.Running()
		p.logger.Warn("graceful drain timed out, cancelling active operations",
			"count", len(active), "operation_ids", active)
		p.cancelActiveContexts()
		<-drained
	}

	for _, w := range p.workers {
		w.stop()
	}
	p.logger.Info("worker pool stopped")
}

// Execute runs one operation synchronously: it queues the task, waits for
// a worker, and returns the task's outcome. The pool creates the tracker,
// registers the operation for cancellation, and applies the terminal
// transition the task did not. Implements the tool runner contract.
func (p *WorkerPool) Execute(ctx context.Context, op models.Operation, task func(ctx context.Context, tracker *progress.Tracker) error) error {
	if op.OperationID == "" {
		op.OperationID = uuid.NewString()
	}
	if err := p.begin(); err != nil {
		return err
	}
	if err := p.acquire(ctx); err != nil {
		p.tasksWG.Done()
		return err
	}
	sub := &submission{ctx: ctx, op: op, task: task, done: make(chan error, 1)}
	p.tasks <- sub
	return <-sub.done
}

// Submit queues an operation for background execution and returns its id.
// The operation runs detached from any request context; outcomes surface
// through bus events and the checkpoint store. Submit fails fast with
// ErrAtCapacity instead of waiting for a slot.
func (p *WorkerPool) Submit(op models.Operation, task Task) (string, error) {
	if op.OperationID == "" {
		op.OperationID = uuid.NewString()
	}
	if err := p.begin(); err != nil {
		return "", err
	}
	select {
	case p.sem <- struct{}{}:
	default:
		p.tasksWG.Done()
		return "", ErrAtCapacity
	}
	p.tasks <- &submission{ctx: context.Background(), op: op, task: task}
	return op.OperationID, nil
}

// RegisterOperation stores a cancel function for an operation managed
// outside the pool's run path, so the API cancel endpoint reaches it.
func (p *WorkerPool) RegisterOperation(id string, cancel context.CancelFunc) {
	p.register(id, cancel, nil)
}

// UnregisterOperation removes the registry entry when processing ends.
func (p *WorkerPool) UnregisterOperation(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}

// CancelOperation cancels a running operation: it flips the tracker's
// cancelled flag (persisting it and emitting operation_cancelled) and
// then cancels the operation's context. Returns false for unknown ids.
func (p *WorkerPool) CancelOperation(id string) bool {
	p.mu.RLock()
	entry, ok := p.active[id]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	if entry.tracker != nil {
		// The operation context is about to die; terminal writes use a
		// background context.
		entry.tracker.Cancel(context.Background())
	}
	entry.cancel()
	p.logger.Info("operation cancelled", "operation_id", id)
	return true
}

// Running returns the ids of operations currently in the registry, sorted.
func (p *WorkerPool) Running() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	p.mu.RLock()
	started, stopped := p.started, p.stopped
	workers := p.workers
	p.mu.RUnlock()

	stats := make([]WorkerHealth, len(workers))
	activeWorkers := 0
	for i, w := range workers {
		stats[i] = w.health()
		if stats[i].Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	p.orphans.mu.Lock()
	lastScan := p.orphans.lastScan
	recovered := p.orphans.recovered
	p.orphans.mu.Unlock()

	return &PoolHealth{
		IsHealthy:        started && !stopped && len(workers) > 0,
		TotalWorkers:     len(workers),
		ActiveWorkers:    activeWorkers,
		ActiveOperations: p.Running(),
		QueueDepth:       len(p.tasks),
		MaxConcurrent:    p.cfg.MaxConcurrentOperations,
		WorkerStats:      stats,
		LastOrphanScan:   lastScan,
		OrphansRecovered: recovered,
	}
}

// run owns one operation's lifecycle: tracker, timeout context, registry
// entry, and the terminal transition. Terminal transitions are sticky, so
// a task that already completed with a richer message wins over the
// fallbacks here. Terminal writes use a background context since the
// operation context may already be dead.
func (p *WorkerPool) run(ctx context.Context, op models.Operation, task Task) error {
	log := p.logger.With("operation_id", op.OperationID, "operation_type", op.OperationType)
	tracker := progress.NewTracker(op, p.store, p.events, p.progressCfg, p.baseLogger)

	opCtx, cancel := context.WithTimeout(ctx, p.cfg.OperationTimeout)
	defer cancel()

	p.register(op.OperationID, cancel, tracker)
	defer p.UnregisterOperation(op.OperationID)

	tracker.Start(opCtx)
	log.Info("operation started")

	err := task(opCtx, tracker)
	switch {
	case err == nil:
		tracker.Complete(context.Background(), "operation complete")
		log.Info("operation finished", "cards_created", len(tracker.Snapshot().CardsCreated))
		return nil
	case tracker.Cancelled():
		log.Info("operation stopped by cancellation")
		return ErrCancelled
	case errors.Is(opCtx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("operation timed out after %v", p.cfg.OperationTimeout)
		tracker.Fail(context.Background(), err)
		log.Warn("operation timed out", "timeout", p.cfg.OperationTimeout)
		return err
	default:
		tracker.Fail(context.Background(), err)
		log.Warn("operation failed", "error", err)
		return err
	}
}

// begin gates new submissions on pool state and counts them for drain.
func (p *WorkerPool) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if !p.started {
		return ErrNotStarted
	}
	p.tasksWG.Add(1)
	return nil
}

// acquire claims an in-flight slot, waiting until one frees or the caller
// gives up.
func (p *WorkerPool) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrStopped
	}
}

// release frees the in-flight slot once a worker finished the submission.
func (p *WorkerPool) release() {
	<-p.sem
	p.tasksWG.Done()
}

func (p *WorkerPool) register(id string, cancel context.CancelFunc, tracker *progress.Tracker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[id] = &activeOperation{cancel: cancel, tracker: tracker}
}

// cancelActiveContexts force-cancels every registered operation context
// without touching the trackers: tasks unwind with a context error and
// fail with their checkpoint retained, so they stay resumable.
func (p *WorkerPool) cancelActiveContexts() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, entry := range p.active {
		entry.cancel()
	}
}
