package knowledge

import (
	"time"

	"github.com/viacanvas/intelligence/pkg/models"
)

// ChangeOp labels one entry in the change log.
type ChangeOp string

const (
	ChangeAdd      ChangeOp = "add"
	ChangeUpdate   ChangeOp = "update"
	ChangeRemove   ChangeOp = "remove"
	ChangeCategory ChangeOp = "category"
)

// ChangeEntry records one mutation of the graph. The log is in-memory and
// bounded; it drives the persistence cadence and the debug surface.
type ChangeEntry struct {
	Op        ChangeOp  `json:"op"`
	CardID    string    `json:"card_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionSuggestion is an edge the caller may propose to the user. It is
// a recommendation only; nothing here writes to the canvas service.
type ConnectionSuggestion struct {
	SourceID string                `json:"source_id"`
	TargetID string                `json:"target_id"`
	Type     models.ConnectionType `json:"type"`
	Score    float64               `json:"score"`
}

// AddResult is returned by AddCard and UpdateCard.
type AddResult struct {
	CardID          string                 `json:"card_id"`
	SuggestedParent string                 `json:"suggested_parent,omitempty"`
	TopSimilar      []models.Similarity    `json:"top_similar,omitempty"`
	Suggestions     []ConnectionSuggestion `json:"suggestions,omitempty"`
}
