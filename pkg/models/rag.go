package models

import "time"

// IndexStatus is the lifecycle state of a RAG index record. Transitions are
// forward-only: pending -> indexed <-> failed -> deleted.
type IndexStatus string

const (
	IndexStatusPending IndexStatus = "pending"
	IndexStatusIndexed IndexStatus = "indexed"
	IndexStatusFailed  IndexStatus = "failed"
	IndexStatusDeleted IndexStatus = "deleted"
)

// IsValid checks if the index status is valid.
func (s IndexStatus) IsValid() bool {
	switch s {
	case IndexStatusPending, IndexStatusIndexed, IndexStatusFailed, IndexStatusDeleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the forward-only lifecycle.
func (s IndexStatus) CanTransitionTo(next IndexStatus) bool {
	switch s {
	case IndexStatusPending:
		return next == IndexStatusIndexed || next == IndexStatusFailed || next == IndexStatusDeleted
	case IndexStatusIndexed:
		return next == IndexStatusFailed || next == IndexStatusDeleted
	case IndexStatusFailed:
		return next == IndexStatusIndexed || next == IndexStatusDeleted
	case IndexStatusDeleted:
		return false
	default:
		return false
	}
}

// IndexRecord tracks what the vector store holds for one entity.
// (EntityID, EntityType) is unique; ContentHash is the SHA-256 of the indexed
// text, so re-indexing identical content is detected as a no-op.
type IndexRecord struct {
	EntityID    string      `json:"entity_id"`
	EntityType  string      `json:"entity_type"`
	CanvasID    string      `json:"canvas_id,omitempty"`
	ContentHash string      `json:"content_hash"`
	ChunkCount  int         `json:"chunk_count"`
	PointIDs    []string    `json:"point_ids,omitempty"` // opaque vector-store ids
	Model       string      `json:"model,omitempty"`
	Status      IndexStatus `json:"status"`
	RetryCount  int         `json:"retry_count"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// SearchResult is one hit from the RAG store, sorted descending by score.
type SearchResult struct {
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	CanvasID   string         `json:"canvas_id,omitempty"`
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
