package category

import "sort"

// Candidate is one stage-A retrieval hit, carrying the blended score and
// its two components for prompt building and fallback decisions.
type Candidate struct {
	ID       string  `json:"id"`
	Combined float64 `json:"combined"`
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
}

// retrieve runs both indexes, min-max normalizes each result list, and
// blends them: combined = alpha*semantic + (1-alpha)*lexical, with a
// profile missing from one list contributing zero there. The top
// candidateTopK candidates are returned, descending, ties by smaller id.
func retrieve(vec *VectorIndex, kw *KeywordIndex, embedding []float32, text string,
	alpha float64, retrieveTopK, candidateTopK int) []Candidate {

	sem := normalizeScores(vec.Search(embedding, retrieveTopK))
	lex := normalizeScores(kw.Search(Tokenize(text), retrieveTopK))

	ids := make(map[string]struct{}, len(sem)+len(lex))
	for id := range sem {
		ids[id] = struct{}{}
	}
	for id := range lex {
		ids[id] = struct{}{}
	}

	out := make([]Candidate, 0, len(ids))
	for id := range ids {
		c := Candidate{ID: id, Semantic: sem[id], Lexical: lex[id]}
		c.Combined = alpha*c.Semantic + (1-alpha)*c.Lexical
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Combined != out[j].Combined {
			return out[i].Combined > out[j].Combined
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > candidateTopK {
		out = out[:candidateTopK]
	}
	return out
}

// normalizeScores min-max normalizes a score list into [0,1]. A list whose
// scores are all equal (including a single hit) normalizes to 1.0: the hit
// is the best evidence its index has.
func normalizeScores(scored []Scored) map[string]float64 {
	if len(scored) == 0 {
		return nil
	}
	lo, hi := scored[0].Score, scored[0].Score
	for _, s := range scored[1:] {
		if s.Score < lo {
			lo = s.Score
		}
		if s.Score > hi {
			hi = s.Score
		}
	}
	out := make(map[string]float64, len(scored))
	for _, s := range scored {
		if hi == lo {
			out[s.ID] = 1.0
			continue
		}
		out[s.ID] = (s.Score - lo) / (hi - lo)
	}
	return out
}
