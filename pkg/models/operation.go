package models

import (
	"encoding/json"
	"time"
)

// OperationType identifies a kind of long-running operation.
type OperationType string

const (
	// OperationTypeURLExtraction fetches and converts a URL into cards.
	OperationTypeURLExtraction OperationType = "url_extraction"
	// OperationTypeCardGrowth expands one card into child concept cards.
	OperationTypeCardGrowth OperationType = "card_growth"
	// OperationTypeDeepResearch runs the multi-stage research pipeline.
	OperationTypeDeepResearch OperationType = "deep_research"
	// OperationTypeLearningCluster builds a hierarchical learning cluster.
	OperationTypeLearningCluster OperationType = "learning_cluster"
)

// IsValid checks if the operation type is valid.
func (t OperationType) IsValid() bool {
	switch t {
	case OperationTypeURLExtraction, OperationTypeCardGrowth,
		OperationTypeDeepResearch, OperationTypeLearningCluster:
		return true
	default:
		return false
	}
}

// Operation is the durable record for a long-running unit of work. The
// checkpoint manager persists it keyed by OperationID: periodically while
// running, always on failure, and deletes it on success.
type Operation struct {
	OperationID   string          `json:"operation_id"`
	OperationType OperationType   `json:"operation_type"`
	CanvasID      string          `json:"canvas_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	CurrentStep   string          `json:"current_step"`
	TotalSteps    int             `json:"total_steps"`
	Progress      float64         `json:"progress"` // [0,1]
	Message       string          `json:"message"`
	CardsCreated  []string        `json:"cards_created,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Cancelled     bool            `json:"cancelled"`
	State         json.RawMessage `json:"state,omitempty"` // opaque resume blob owned by the operation
}

// Incomplete reports whether the operation may still be resumed.
func (o *Operation) Incomplete() bool {
	return o.Progress < 1.0 && !o.Cancelled
}
