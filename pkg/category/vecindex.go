package category

import (
	"github.com/viacanvas/intelligence/pkg/vector"
)

// VectorIndex holds profile centroids in memory and answers cosine top-K
// queries. Like the keyword index it relies on the manager for locking.
type VectorIndex struct {
	centroids map[string][]float32
}

// NewVectorIndex creates an empty centroid index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{centroids: make(map[string][]float32)}
}

// Upsert stores a profile's centroid. A nil or empty centroid still
// registers the profile; it scores zero everywhere until it learns one.
func (idx *VectorIndex) Upsert(id string, centroid []float32) {
	c := make([]float32, len(centroid))
	copy(c, centroid)
	idx.centroids[id] = c
}

// Remove drops a profile from the index.
func (idx *VectorIndex) Remove(id string) {
	delete(idx.centroids, id)
}

// Len returns the number of indexed profiles.
func (idx *VectorIndex) Len() int { return len(idx.centroids) }

// Search returns the topK profiles by cosine similarity with positive
// scores, descending, ties broken by smaller id.
func (idx *VectorIndex) Search(query []float32, topK int) []Scored {
	if topK <= 0 {
		return nil
	}
	out := make([]Scored, 0, len(idx.centroids))
	for id, centroid := range idx.centroids {
		score := vector.Cosine(query, centroid)
		if score > 0 {
			out = append(out, Scored{ID: id, Score: score})
		}
	}
	sortScored(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
