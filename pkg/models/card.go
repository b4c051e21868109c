// Package models defines the shared domain types: cards, connections,
// sessions, operations, category profiles, and RAG index records.
//
// Cards and connections are owned by the external canvas CRUD service; the
// types here are the mirror the intelligence core works with, keyed by the
// ids the CRUD service assigned.
package models

import "time"

// CardType defines the kinds of cards a canvas can hold.
type CardType string

const (
	// CardTypeRichText is free-form text with markup.
	CardTypeRichText CardType = "rich_text"
	// CardTypeLink wraps a URL.
	CardTypeLink CardType = "link"
	// CardTypeVideo wraps a video URL plus playback metadata.
	CardTypeVideo CardType = "video"
	// CardTypeTodo holds a checklist payload.
	CardTypeTodo CardType = "todo"
	// CardTypeReminder holds a due-date payload.
	CardTypeReminder CardType = "reminder"
)

// IsValid checks if the card type is valid.
func (t CardType) IsValid() bool {
	switch t {
	case CardTypeRichText, CardTypeLink, CardTypeVideo, CardTypeTodo, CardTypeReminder:
		return true
	default:
		return false
	}
}

// SourceType records where a card's content came from.
type SourceType string

const (
	// SourceTypeURL marks content extracted from a URL.
	SourceTypeURL SourceType = "url"
	// SourceTypeAIGenerated marks content produced by a model.
	SourceTypeAIGenerated SourceType = "ai_generated"
	// SourceTypeManual marks content typed by the user.
	SourceTypeManual SourceType = "manual"
)

// IsValid checks if the source type is valid.
func (t SourceType) IsValid() bool {
	return t == SourceTypeURL || t == SourceTypeAIGenerated || t == SourceTypeManual
}

// Position is a visual placeholder. The layout service owns real positions;
// the core only passes these through.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Card mirrors a canvas card.
type Card struct {
	ID          string         `json:"id"`
	CanvasID    string         `json:"canvas_id"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	CardType    CardType       `json:"card_type"`
	ParentID    *string        `json:"parent_id,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	CardData    map[string]any `json:"card_data,omitempty"` // type-specific payload (video URL, todo items, ...)
	SourceURL   string         `json:"source_url,omitempty"`
	SourceType  SourceType     `json:"source_type,omitempty"`
	Sources     []string       `json:"sources,omitempty"`
	HasConflict bool           `json:"has_conflict,omitempty"`
	Position    Position       `json:"position"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at,omitempty"`
}

// ConnectionType defines the directed edge types between cards.
type ConnectionType string

const (
	ConnectionTypeParentChild  ConnectionType = "parent-child"
	ConnectionTypeRelated      ConnectionType = "related"
	ConnectionTypeReference    ConnectionType = "reference"
	ConnectionTypeSimilar      ConnectionType = "similar"
	ConnectionTypeMentions     ConnectionType = "mentions"
	ConnectionTypeChallenges   ConnectionType = "challenges"
	ConnectionTypeDemonstrates ConnectionType = "demonstrates"
	ConnectionTypeDefault      ConnectionType = "default"
)

// IsValid checks if the connection type is valid.
func (t ConnectionType) IsValid() bool {
	switch t {
	case ConnectionTypeParentChild, ConnectionTypeRelated, ConnectionTypeReference,
		ConnectionTypeSimilar, ConnectionTypeMentions, ConnectionTypeChallenges,
		ConnectionTypeDemonstrates, ConnectionTypeDefault:
		return true
	default:
		return false
	}
}

// Normalize maps wire aliases onto the canonical type set. Hierarchy edges
// arrive as either "parent-child" or "default" depending on the caller;
// "parent-child" is canonical everywhere in the core.
func (t ConnectionType) Normalize() ConnectionType {
	if t == ConnectionTypeDefault || t == "" {
		return ConnectionTypeParentChild
	}
	return t
}

// Connection mirrors a directed, typed edge between two cards on one canvas.
// Self-loops are rejected before a connection reaches storage.
type Connection struct {
	ID              string         `json:"id,omitempty"`
	CanvasID        string         `json:"canvas_id"`
	SourceID        string         `json:"source_id"`
	TargetID        string         `json:"target_id"`
	Type            ConnectionType `json:"connection_type"`
	SimilarityScore *float64       `json:"similarity_score,omitempty"` // [0,1] when present
	CreatedAt       time.Time      `json:"created_at,omitempty"`
}
