package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/viacanvas/intelligence/pkg/models"
)

// MemoryStore is the in-memory CheckpointStore used when no database is
// configured. Checkpoints do not survive a restart.
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]*models.Operation
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]*models.Operation)}
}

// Save inserts or replaces the checkpoint keyed by OperationID.
func (s *MemoryStore) Save(_ context.Context, op *models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.OperationID] = cloneOperation(op)
	return nil
}

// Get returns the checkpoint or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, operationID string) (*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[operationID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOperation(op), nil
}

// Delete removes the checkpoint. Deleting a missing id is not an error.
func (s *MemoryStore) Delete(_ context.Context, operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, operationID)
	return nil
}

// ListIncomplete returns resumable operations, newest first.
func (s *MemoryStore) ListIncomplete(_ context.Context, canvasID, sessionID string) ([]*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Operation
	for _, op := range s.ops {
		if !op.Incomplete() {
			continue
		}
		if canvasID != "" && op.CanvasID != canvasID {
			continue
		}
		if sessionID != "" && op.SessionID != sessionID {
			continue
		}
		out = append(out, cloneOperation(op))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].OperationID < out[j].OperationID
	})
	return out, nil
}

// DeleteOlderThan removes checkpoints not updated since the cutoff.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, op := range s.ops {
		if op.UpdatedAt.Before(cutoff) {
			delete(s.ops, id)
			removed++
		}
	}
	return removed, nil
}

func cloneOperation(op *models.Operation) *models.Operation {
	out := *op
	if op.CardsCreated != nil {
		out.CardsCreated = append([]string(nil), op.CardsCreated...)
	}
	if op.State != nil {
		out.State = append([]byte(nil), op.State...)
	}
	return &out
}
