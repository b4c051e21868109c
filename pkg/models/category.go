package models

import "time"

// KeywordScore is one weighted keyword in a category profile.
type KeywordScore struct {
	Term  string  `json:"term"`
	Score float64 `json:"score"`
}

// CategoryProfile is a compact learned description of a topic cluster.
//
// Invariants maintained by the profile manager:
//   - Confidence == AutoAssignments / (AutoAssignments + UserCorrections)
//     whenever the denominator is positive.
//   - CardCount equals the number of KG nodes whose category is Name.
//   - len(Keywords) <= 20, len(Snippets) <= 3, snippets <= 150 chars.
//   - For CardCount > 0 the centroid is the running mean of member embeddings.
type CategoryProfile struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Centroid        []float32      `json:"centroid"`
	Keywords        []KeywordScore `json:"keywords,omitempty"`
	Snippets        []string       `json:"snippets,omitempty"`
	ParentID        string         `json:"parent_id,omitempty"`
	SiblingIDs      []string       `json:"sibling_ids,omitempty"`
	ChildIDs        []string       `json:"child_ids,omitempty"`
	CardCount       int            `json:"card_count"`
	Confidence      float64        `json:"confidence"` // [0,1]
	AutoAssignments int            `json:"auto_assignments"`
	UserCorrections int            `json:"user_corrections"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// RecomputeConfidence applies the confidence invariant from the counters.
func (p *CategoryProfile) RecomputeConfidence() {
	total := p.AutoAssignments + p.UserCorrections
	if total > 0 {
		p.Confidence = float64(p.AutoAssignments) / float64(total)
	}
}

// UncategorizedName is the sentinel category for cards no profile matched.
const UncategorizedName = "Uncategorized"
