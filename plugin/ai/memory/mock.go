package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/hrygo/mnemo/plugin/ai"
)

// MockEmbedder is a deterministic bag-of-words embedder for tests and offline use.
// Each lowercased token is hashed into one of Dims buckets and the vector is L2-normalized.
type MockEmbedder struct {
	Dims int
}

// NewMockEmbedder creates a MockEmbedder with dims buckets (default 256).
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &MockEmbedder{Dims: dims}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.Dims)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(m.Dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int {
	return m.Dims
}

var _ ai.EmbeddingService = (*MockEmbedder)(nil)

// MockScorer scores a candidate by the fraction of query tokens it contains.
type MockScorer struct{}

func (MockScorer) Score(_ context.Context, query string, candidates []string) ([]float32, error) {
	queryTokens := tokenize(query)
	scores := make([]float32, len(candidates))
	if len(queryTokens) == 0 {
		return scores, nil
	}
	for i, c := range candidates {
		present := make(map[string]struct{})
		for _, tok := range tokenize(c) {
			present[tok] = struct{}{}
		}
		hits := 0
		for _, tok := range queryTokens {
			if _, ok := present[tok]; ok {
				hits++
			}
		}
		scores[i] = float32(hits) / float32(len(queryTokens))
	}
	return scores, nil
}

var _ RelevanceScorer = MockScorer{}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
