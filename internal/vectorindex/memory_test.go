package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedIndex(t *testing.T) *MemoryIndex {
	t.Helper()
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsureCollection(ctx, 3))
	require.NoError(t, idx.Upsert(ctx, []Point{
		{ID: "c1", Vector: []float32{1, 0, 0}, TenantID: "t1", DocumentID: "d1", ChunkIndex: 0},
		{ID: "c2", Vector: []float32{0.9, 0.1, 0}, TenantID: "t1", DocumentID: "d1", ChunkIndex: 1},
		{ID: "c3", Vector: []float32{0, 1, 0}, TenantID: "t1", DocumentID: "d2", ChunkIndex: 0},
		{ID: "c4", Vector: []float32{1, 0, 0}, TenantID: "t2", DocumentID: "d3", ChunkIndex: 0},
	}))
	return idx
}

func TestMemoryIndexSearchIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	idx := seedIndex(t)

	matches, err := idx.Search(ctx, "t1", []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, "t1", m.TenantID)
	}
	// c4 is an exact match on the query vector but belongs to t2.
	for _, m := range matches {
		assert.NotEqual(t, "c4", m.ChunkID)
	}
	assert.Equal(t, "c1", matches[0].ChunkID)
}

func TestMemoryIndexSearchOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	idx := seedIndex(t)

	matches, err := idx.Search(ctx, "t1", []float32{1, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "c1", matches[0].ChunkID)
	assert.Equal(t, "c2", matches[1].ChunkID)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
}

func TestMemoryIndexScoreThreshold(t *testing.T) {
	ctx := context.Background()
	idx := seedIndex(t)

	matches, err := idx.Search(ctx, "t1", []float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, float32(0.5))
	}
	// c3 is orthogonal to the query and must fall below the threshold.
	for _, m := range matches {
		assert.NotEqual(t, "c3", m.ChunkID)
	}
}

func TestMemoryIndexDeleteByDocument(t *testing.T) {
	ctx := context.Background()
	idx := seedIndex(t)

	require.NoError(t, idx.DeleteByDocument(ctx, "t1", "d1"))

	n, err := idx.CountByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	n, err = idx.CountByTenant(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestMemoryIndexDeleteByTenant(t *testing.T) {
	ctx := context.Background()
	idx := seedIndex(t)

	require.NoError(t, idx.DeleteByTenant(ctx, "t1"))

	n, err := idx.CountByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	matches, err := idx.SearchAll(ctx, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "t2", matches[0].TenantID)
}

func TestMemoryIndexPayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsureCollection(ctx, 3))
	require.NoError(t, idx.Upsert(ctx, []Point{{
		ID:         "c1",
		Vector:     []float32{1, 0, 0},
		TenantID:   "t1",
		DocumentID: "d1",
		ChunkIndex: 2,
		Filename:   "report.pdf",
		Metadata:   map[string]string{"source": "crm", "lang": "en"},
	}}))

	matches, err := idx.Search(ctx, "t1", []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "report.pdf", matches[0].Filename)
	assert.Equal(t, map[string]string{"source": "crm", "lang": "en"}, matches[0].Metadata)
	assert.Equal(t, 2, matches[0].ChunkIndex)
}

func TestMemoryIndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsureCollection(ctx, 3))
	assert.Error(t, idx.EnsureCollection(ctx, 4))
	assert.Error(t, idx.Upsert(ctx, []Point{{ID: "x", Vector: []float32{1, 2}, TenantID: "t1"}}))
}
