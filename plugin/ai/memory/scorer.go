package memory

import (
	"context"
	"math"

	"github.com/hrygo/mnemo/plugin/ai"
)

// RelevanceScorer scores each candidate against query, one score per candidate in input order.
type RelevanceScorer interface {
	Score(ctx context.Context, query string, candidates []string) ([]float32, error)
}

// RerankScorer adapts a cross-encoder RerankerService to RelevanceScorer.
type RerankScorer struct {
	reranker ai.RerankerService
}

// NewRerankScorer creates a scorer backed by reranker.
func NewRerankScorer(reranker ai.RerankerService) *RerankScorer {
	return &RerankScorer{reranker: reranker}
}

// Score maps rerank results back to input positions. Candidates the reranker omits score 0.
func (s *RerankScorer) Score(ctx context.Context, query string, candidates []string) ([]float32, error) {
	if len(candidates) == 0 {
		return []float32{}, nil
	}
	results, err := s.reranker.Rerank(ctx, query, candidates, len(candidates))
	if err != nil {
		return nil, err
	}
	scores := make([]float32, len(candidates))
	for _, r := range results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.Score
		}
	}
	return scores, nil
}

var _ RelevanceScorer = (*RerankScorer)(nil)

// cosineSimilarity returns 0 for mismatched or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
