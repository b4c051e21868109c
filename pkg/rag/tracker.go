package rag

import (
	"context"
	"errors"
	"sync"

	"github.com/viacanvas/intelligence/pkg/models"
)

// ErrRecordNotFound is returned when no index record exists for an entity.
var ErrRecordNotFound = errors.New("rag: index record not found")

// Tracker persists index records keyed by (entity_id, entity_type).
// Implementations must be safe for concurrent use.
type Tracker interface {
	// Get returns the record or ErrRecordNotFound.
	Get(ctx context.Context, entityID, entityType string) (*models.IndexRecord, error)
	// Save inserts or replaces the record for its (entity_id, entity_type).
	Save(ctx context.Context, rec *models.IndexRecord) error
}

// MemoryTracker is the in-memory Tracker used when no database is
// configured.
type MemoryTracker struct {
	mu      sync.RWMutex
	records map[string]*models.IndexRecord
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{records: make(map[string]*models.IndexRecord)}
}

// Get returns the record or ErrRecordNotFound.
func (t *MemoryTracker) Get(_ context.Context, entityID, entityType string) (*models.IndexRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[entityKey(entityID, entityType)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

// Save inserts or replaces the record for its (entity_id, entity_type).
func (t *MemoryTracker) Save(_ context.Context, rec *models.IndexRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[entityKey(rec.EntityID, rec.EntityType)] = cloneRecord(rec)
	return nil
}

func entityKey(entityID, entityType string) string {
	return entityID + "\x00" + entityType
}

func cloneRecord(rec *models.IndexRecord) *models.IndexRecord {
	out := *rec
	if rec.PointIDs != nil {
		out.PointIDs = append([]string(nil), rec.PointIDs...)
	}
	return &out
}
