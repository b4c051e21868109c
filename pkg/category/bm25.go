package category

import (
	"math"
	"sort"

	"github.com/viacanvas/intelligence/pkg/models"
)

// Scored pairs a profile id with a retrieval score. Lists of these are
// sorted descending by score, ties broken by smaller id.
type Scored struct {
	ID    string
	Score float64
}

// KeywordIndex is an inverted index over profile keywords scored with
// BM25. Each profile is one "document" whose term frequencies are its
// keyword scores; document length is the sum of those scores. The index
// is not goroutine-safe; the manager serializes access.
type KeywordIndex struct {
	k1, b    float64
	docLen   map[string]float64            // profile id -> summed keyword score
	postings map[string]map[string]float64 // term -> profile id -> keyword score
	totalLen float64
}

// NewKeywordIndex creates an empty BM25 index with the given parameters.
func NewKeywordIndex(k1, b float64) *KeywordIndex {
	return &KeywordIndex{
		k1:       k1,
		b:        b,
		docLen:   make(map[string]float64),
		postings: make(map[string]map[string]float64),
	}
}

// Upsert replaces a profile's keyword postings.
func (idx *KeywordIndex) Upsert(id string, keywords []models.KeywordScore) {
	idx.Remove(id)
	var length float64
	for _, kw := range keywords {
		if kw.Term == "" || kw.Score <= 0 {
			continue
		}
		posting := idx.postings[kw.Term]
		if posting == nil {
			posting = make(map[string]float64)
			idx.postings[kw.Term] = posting
		}
		posting[id] = kw.Score
		length += kw.Score
	}
	idx.docLen[id] = length
	idx.totalLen += length
}

// Remove drops a profile from the index.
func (idx *KeywordIndex) Remove(id string) {
	length, ok := idx.docLen[id]
	if !ok {
		return
	}
	idx.totalLen -= length
	delete(idx.docLen, id)
	for term, posting := range idx.postings {
		if _, ok := posting[id]; ok {
			delete(posting, id)
			if len(posting) == 0 {
				delete(idx.postings, term)
			}
		}
	}
}

// Len returns the number of indexed profiles.
func (idx *KeywordIndex) Len() int { return len(idx.docLen) }

// Search scores the query terms with BM25 and returns the top topK
// profiles with positive scores. Duplicate query terms count once: card
// content is long enough that repeated-term weighting just rewards
// verbosity. IDF uses the smoothed form log((N-df+0.5)/(df+0.5)+1), which
// stays positive for terms present in most documents.
func (idx *KeywordIndex) Search(queryTerms []string, topK int) []Scored {
	n := float64(len(idx.docLen))
	if n == 0 || topK <= 0 {
		return nil
	}
	avgLen := idx.totalLen / n

	seen := make(map[string]struct{}, len(queryTerms))
	scores := make(map[string]float64)
	for _, term := range queryTerms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		posting := idx.postings[term]
		if len(posting) == 0 {
			continue
		}
		df := float64(len(posting))
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		for id, tf := range posting {
			norm := idx.k1 * (1 - idx.b + idx.b*safeDiv(idx.docLen[id], avgLen))
			scores[id] += idf * (tf * (idx.k1 + 1)) / (tf + norm)
		}
	}

	out := make([]Scored, 0, len(scores))
	for id, score := range scores {
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

func sortScored(s []Scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].ID < s[j].ID
	})
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
