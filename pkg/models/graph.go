package models

import "time"

// GraphNode mirrors a card inside the knowledge-graph backend. Content is
// the normalized text used for similarity; the embedding has the configured
// fixed dimension (768 by default).
type GraphNode struct {
	ID         string         `json:"id"`
	CanvasID   string         `json:"canvas_id,omitempty"`
	Title      string         `json:"title,omitempty"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Category   string         `json:"category,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}

// GraphEdge mirrors a typed, weighted directed edge between two graph nodes.
type GraphEdge struct {
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       ConnectionType `json:"type"`
	Weight     float64        `json:"weight"` // similarity score for "similar" edges
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Similarity pairs a node id with a similarity score, sorted descending by
// score (ties broken by smaller id) wherever lists of these appear.
type Similarity struct {
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
}

// GraphStats summarizes a backend for health and debug surfaces.
type GraphStats struct {
	Nodes         int            `json:"nodes"`
	Edges         int            `json:"edges"`
	EdgesByType   map[string]int `json:"edges_by_type,omitempty"`
	Categories    map[string]int `json:"categories,omitempty"`
	Uncategorized int            `json:"uncategorized"`
}

// GraphIssues is the output of knowledge-graph issue detection.
type GraphIssues struct {
	OrphanedCards       []string    `json:"orphaned_cards,omitempty"`
	WeakConnections     []GraphEdge `json:"weak_connections,omitempty"`     // similarity < weak threshold
	PotentialDuplicates [][2]string `json:"potential_duplicates,omitempty"` // similarity > duplicate threshold
	Uncategorized       []string    `json:"uncategorized,omitempty"`
}
