package queue

import (
	"log/slog"
	"sync"
	"time"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// worker drains the pool's submission channel one operation at a time.
type worker struct {
	id       string
	pool     *WorkerPool
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu                  sync.RWMutex
	status              WorkerStatus
	currentOperationID  string
	operationsProcessed int
	lastActivity        time.Time
}

func newWorker(id string, pool *WorkerPool) *worker {
	return &worker{
		id:           id,
		pool:         pool,
		logger:       pool.logger.With("worker_id", id),
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now().UTC(),
	}
}

// start begins the worker loop in a goroutine.
func (w *worker) start() {
	w.wg.Add(1)
	go w.run()
}

// stop signals the worker to stop and waits for it to finish its current
// operation. It is safe to call multiple times.
func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// health returns the current worker health status.
func (w *worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                  w.id,
		Status:              string(w.status),
		CurrentOperationID:  w.currentOperationID,
		OperationsProcessed: w.operationsProcessed,
		LastActivity:        w.lastActivity,
	}
}

// run is the main worker loop. Submissions in flight when stop is
// signalled finish before the worker exits.
func (w *worker) run() {
	defer w.wg.Done()
	w.logger.Debug("worker started")

	for {
		select {
		case <-w.stopCh:
			w.logger.Debug("worker shutting down")
			return
		default:
		}

		select {
		case <-w.stopCh:
			w.logger.Debug("worker shutting down")
			return
		case sub := <-w.pool.tasks:
			w.process(sub)
		}
	}
}

// process runs one submission and answers its waiter, if any.
func (w *worker) process(sub *submission) {
	w.setStatus(WorkerStatusWorking, sub.op.OperationID)
	defer w.setStatus(WorkerStatusIdle, "")

	err := w.pool.run(sub.ctx, sub.op, sub.task)
	if sub.done != nil {
		sub.done <- err
	}
	w.pool.release()

	w.mu.Lock()
	w.operationsProcessed++
	w.mu.Unlock()
}

// setStatus updates the worker's health tracking state.
func (w *worker) setStatus(status WorkerStatus, operationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentOperationID = operationID
	w.lastActivity = time.Now().UTC()
}
