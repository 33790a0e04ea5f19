package knowledge

import "math"

// Scorer rates how well an entry matches a query vector. Higher is better.
type Scorer interface {
	Score(query []float32, entry *IndexEntry) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(query []float32, entry *IndexEntry) float64

// Score implements Scorer.
func (f ScorerFunc) Score(query []float32, entry *IndexEntry) float64 { return f(query, entry) }

// CosineScorer is the default similarity.
type CosineScorer struct{}

// Score implements Scorer.
func (CosineScorer) Score(query []float32, entry *IndexEntry) float64 {
	return Cosine(query, entry.Embedding)
}

// Cosine returns the cosine similarity of a and b; mismatched or zero
// vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// StubScorer returns fixed scores by entry id, 0 for unknown ids.
type StubScorer map[string]float64

// Score implements Scorer.
func (s StubScorer) Score(_ []float32, entry *IndexEntry) float64 { return s[entry.ID] }
