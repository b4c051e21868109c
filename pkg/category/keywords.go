// Package category implements the dynamic, learning category system: a
// two-stage classifier (hybrid retrieval over learned profiles, then an LLM
// decision) and the profile manager that evolves those profiles as cards
// are assigned, corrected, and merged.
package category

import (
	"sort"
	"strings"
	"unicode"

	"github.com/viacanvas/intelligence/pkg/models"
)

// stopwords is the filter list for keyword extraction and BM25 queries.
// Deliberately small: profile keywords are learned, so over-filtering
// hurts more than letting the odd function word through.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "not": {}, "no": {}, "so": {}, "such": {}, "that": {},
	"the": {}, "their": {}, "then": {}, "there": {}, "these": {}, "they": {},
	"this": {}, "to": {}, "was": {}, "we": {}, "were": {}, "what": {},
	"when": {}, "which": {}, "while": {}, "will": {}, "with": {}, "you": {},
	"your": {}, "can": {}, "do": {}, "does": {}, "how": {}, "i": {},
}

// Tokenize lowercases text and splits on non-alphanumerics, dropping
// stopwords and single-character fragments.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ExtractKeywords returns up to max keywords across texts, ranked by raw
// frequency with ties broken alphabetically. Scores are frequencies
// normalized by the most frequent term, so the top keyword scores 1.0.
func ExtractKeywords(texts []string, max int) []models.KeywordScore {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, tok := range Tokenize(text) {
			counts[tok]++
		}
	}
	if len(counts) == 0 || max <= 0 {
		return nil
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > max {
		terms = terms[:max]
	}
	top := float64(counts[terms[0]])
	out := make([]models.KeywordScore, len(terms))
	for i, t := range terms {
		out[i] = models.KeywordScore{Term: t, Score: float64(counts[t]) / top}
	}
	return out
}

// MakeSnippets returns up to max leading extracts, each at most length
// runes, one per non-empty text in order.
func MakeSnippets(texts []string, max, length int) []string {
	var out []string
	for _, text := range texts {
		if len(out) >= max {
			break
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		runes := []rune(trimmed)
		if len(runes) > length {
			trimmed = string(runes[:length])
		}
		out = append(out, trimmed)
	}
	return out
}

// mergeKeywords unions two keyword lists, keeping the higher score per
// term, sorted by score descending (ties alphabetical) and truncated to max.
func mergeKeywords(a, b []models.KeywordScore, max int) []models.KeywordScore {
	best := make(map[string]float64, len(a)+len(b))
	for _, kw := range a {
		if s, ok := best[kw.Term]; !ok || kw.Score > s {
			best[kw.Term] = kw.Score
		}
	}
	for _, kw := range b {
		if s, ok := best[kw.Term]; !ok || kw.Score > s {
			best[kw.Term] = kw.Score
		}
	}
	out := make([]models.KeywordScore, 0, len(best))
	for term, score := range best {
		out = append(out, models.KeywordScore{Term: term, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Term < out[j].Term
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}
