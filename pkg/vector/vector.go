// Package vector holds the small float32 vector routines shared by the
// knowledge graph, the category system, and the RAG store.
package vector

import "math"

// Cosine returns the cosine similarity of a and b in [-1, 1]. Mismatched
// lengths and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RunningMean folds x into a mean over n prior samples: (mean*n + x)/(n+1).
// A nil or dimension-mismatched mean adopts x, restarting the average; the
// mismatch case covers an embedding provider change.
func RunningMean(mean []float32, n int, x []float32) []float32 {
	if len(mean) != len(x) || n <= 0 {
		out := make([]float32, len(x))
		copy(out, x)
		return out
	}
	out := make([]float32, len(mean))
	fn := float64(n)
	for i := range mean {
		out[i] = float32((float64(mean[i])*fn + float64(x[i])) / (fn + 1))
	}
	return out
}

// WeightedMean combines two means weighted by their sample counts. With a
// dimension mismatch or no samples it keeps the side that has weight.
func WeightedMean(a []float32, na int, b []float32, nb int) []float32 {
	switch {
	case na <= 0 && nb <= 0:
		return nil
	case na <= 0 || len(a) == 0:
		out := make([]float32, len(b))
		copy(out, b)
		return out
	case nb <= 0 || len(b) == 0 || len(a) != len(b):
		out := make([]float32, len(a))
		copy(out, a)
		return out
	}
	out := make([]float32, len(a))
	fa, fb := float64(na), float64(nb)
	for i := range a {
		out[i] = float32((float64(a[i])*fa + float64(b[i])*fb) / (fa + fb))
	}
	return out
}
