package search

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/pagemill/internal/vectorindex"
	"github.com/pagemill/pagemill/pkg/apperror"
	"github.com/pagemill/pagemill/pkg/auth"
	"github.com/pagemill/pagemill/pkg/embeddings"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// leakyIndex simulates a broken tenant filter: it returns a foreign match
// regardless of the requested tenant.
type leakyIndex struct {
	vectorindex.Index
	foreign vectorindex.Match
}

func (l *leakyIndex) Search(ctx context.Context, tenantID string, vector []float32, limit int, threshold float32) ([]vectorindex.Match, error) {
	return []vectorindex.Match{l.foreign}, nil
}

func TestSearchFailsClosedOnCrossTenantLeak(t *testing.T) {
	svc := NewService(
		&leakyIndex{foreign: vectorindex.Match{
			ChunkID:  "c1",
			TenantID: "other-tenant",
		}},
		embeddings.NewLocalEmbedder(8),
		nil,
		testLogger(),
	)

	_, err := svc.Search(context.Background(), &auth.Tenant{ID: "my-tenant"}, &SearchRequest{Query: "hello"})
	require.Error(t, err)

	appErr, ok := err.(*apperror.Error)
	require.True(t, ok)
	assert.Equal(t, "consistency_violation", appErr.Code)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	svc := NewService(vectorindex.NewMemoryIndex(), embeddings.NewLocalEmbedder(8), nil, testLogger())

	_, err := svc.Search(context.Background(), &auth.Tenant{ID: "t1"}, &SearchRequest{})
	require.Error(t, err)
}

func TestSearchAllReturnsTenantIDs(t *testing.T) {
	embedder := embeddings.NewLocalEmbedder(8)
	index := vectorindex.NewMemoryIndex()

	ctx := context.Background()
	for _, tenant := range []string{"alpha", "bravo"} {
		vec, err := embedder.EmbedQuery(ctx, "shared corpus text")
		require.NoError(t, err)
		require.NoError(t, index.Upsert(ctx, []vectorindex.Point{{
			ID:         tenant + "-chunk",
			Vector:     vec,
			TenantID:   tenant,
			DocumentID: tenant + "-doc",
		}}))
	}

	svc := NewService(index, embedder, nil, testLogger())
	resp, err := svc.SearchAll(ctx, &InternalSearchRequest{Query: "shared corpus text"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	tenants := map[string]bool{}
	for _, r := range resp.Results {
		tenants[r.TenantID] = true
	}
	assert.True(t, tenants["alpha"])
	assert.True(t, tenants["bravo"])
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, clampLimit(0))
	assert.Equal(t, defaultLimit, clampLimit(-5))
	assert.Equal(t, 25, clampLimit(25))
	assert.Equal(t, maxLimit, clampLimit(5000))
}
