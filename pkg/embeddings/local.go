package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalEmbedder is a deterministic, dependency-free embedder for development
// and tests. Vectors are derived from token hashes and L2-normalized, so
// identical texts always embed identically and token overlap produces cosine
// similarity — enough for exercising the pipeline and search end to end.
type LocalEmbedder struct {
	dimension int
}

func NewLocalEmbedder(dimension int) *LocalEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &LocalEmbedder{dimension: dimension}
}

func (e *LocalEmbedder) Dimension() int {
	return e.dimension
}

func (e *LocalEmbedder) EmbedQuery(_ context.Context, query string) ([]float32, error) {
	return e.embed(query), nil
}

func (e *LocalEmbedder) EmbedDocuments(_ context.Context, documents []string) ([][]float32, error) {
	vectors := make([][]float32, len(documents))
	for i, doc := range documents {
		vectors[i] = e.embed(doc)
	}
	return vectors, nil
}

func (e *LocalEmbedder) embed(text string) []float32 {
	vec := make([]float64, e.dimension)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		seed := h.Sum64()

		// Each token contributes to a handful of pseudo-random positions.
		for j := 0; j < 4; j++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			pos := int(seed % uint64(e.dimension))
			if seed%2 == 0 {
				vec[pos] += 1
			} else {
				vec[pos] -= 1
			}
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dimension)
	if norm == 0 {
		// Empty text gets a fixed basis vector so it still has unit length.
		out[0] = 1
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
