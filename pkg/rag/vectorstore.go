package rag

import (
	"sort"
	"sync"

	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/vector"
)

// Point is one embedded chunk in the vector store.
type Point struct {
	ID         string
	EntityID   string
	EntityType string
	CanvasID   string
	Content    string
	ChunkIndex int
	Embedding  []float32
	Metadata   map[string]any
}

// Filter narrows a search. Empty fields match everything.
type Filter struct {
	CanvasID   string
	EntityType string
}

// VectorStore is the in-memory reference store: brute-force cosine over
// every point, with metadata filters. Safe for concurrent use.
type VectorStore struct {
	mu     sync.RWMutex
	points map[string]*Point
}

// NewVectorStore creates an empty vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{points: make(map[string]*Point)}
}

// Upsert stores the points keyed by their IDs.
func (s *VectorStore) Upsert(points []Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range points {
		p := points[i]
		s.points[p.ID] = &p
	}
}

// Delete removes points by id. Missing ids are ignored.
func (s *VectorStore) Delete(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.points, id)
	}
}

// Search returns up to topK points matching the filter with cosine score
// >= threshold, sorted by score descending. Ties resolve by entity id then
// chunk index so results are stable.
func (s *VectorStore) Search(embedding []float32, filter Filter, topK int, threshold float64) []models.SearchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		point *Point
		score float64
	}
	var hits []scored
	for _, p := range s.points {
		if filter.CanvasID != "" && p.CanvasID != filter.CanvasID {
			continue
		}
		if filter.EntityType != "" && p.EntityType != filter.EntityType {
			continue
		}
		score := vector.Cosine(embedding, p.Embedding)
		if score < threshold {
			continue
		}
		hits = append(hits, scored{point: p, score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].point.EntityID != hits[j].point.EntityID {
			return hits[i].point.EntityID < hits[j].point.EntityID
		}
		return hits[i].point.ChunkIndex < hits[j].point.ChunkIndex
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]models.SearchResult, len(hits))
	for i, h := range hits {
		out[i] = models.SearchResult{
			EntityID:   h.point.EntityID,
			EntityType: h.point.EntityType,
			CanvasID:   h.point.CanvasID,
			Content:    h.point.Content,
			Score:      h.score,
			Metadata:   resultMetadata(h.point),
		}
	}
	return out
}

// Contains reports whether every id is loaded. An empty list is contained.
func (s *VectorStore) Contains(ids []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range ids {
		if _, ok := s.points[id]; !ok {
			return false
		}
	}
	return true
}

// Len returns the number of stored points.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func resultMetadata(p *Point) map[string]any {
	md := make(map[string]any, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		md[k] = v
	}
	md["chunk_index"] = p.ChunkIndex
	return md
}
