package embeddings

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedderDeterministic(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder(64)

	v1, err := e.EmbedQuery(ctx, "the quick brown fox")
	require.NoError(t, err)
	v2, err := e.EmbedQuery(ctx, "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	v3, err := e.EmbedQuery(ctx, "a completely different sentence")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestLocalEmbedderDimensionAndNorm(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder(128)
	assert.Equal(t, 128, e.Dimension())

	vectors, err := e.EmbedDocuments(ctx, []string{"hello world", "", "apple"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for i, vec := range vectors {
		require.Len(t, vec, 128)
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5, "vector %d must be unit length", i)
	}
}

func TestLocalEmbedderSimilarTextsScoreHigher(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder(256)

	apple, err := e.EmbedQuery(ctx, "apple pie recipe")
	require.NoError(t, err)
	applePlus, err := e.EmbedQuery(ctx, "apple pie recipe book")
	require.NoError(t, err)
	unrelated, err := e.EmbedQuery(ctx, "quarterly revenue projections spreadsheet")
	require.NoError(t, err)

	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}

	assert.Greater(t, dot(apple, applePlus), dot(apple, unrelated))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(ErrPermanent))
	assert.True(t, IsPermanent(fmt.Errorf("embed batch: %w", ErrPermanent)))
	assert.False(t, IsPermanent(fmt.Errorf("connection reset")))
	assert.False(t, IsPermanent(nil))
}
