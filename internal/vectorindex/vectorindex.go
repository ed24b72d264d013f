// Package vectorindex provides the vector search index holding chunk
// embeddings. Every point carries its tenant id in the payload and every
// tenant-facing query filters on it; cross-tenant reads exist only for the
// internal operator surface.
package vectorindex

import (
	"context"

	"go.uber.org/fx"

	"github.com/pagemill/pagemill/internal/config"
)

var Module = fx.Module("vectorindex",
	fx.Provide(
		NewQdrantIndex,
		fx.Annotate(
			func(q *QdrantIndex) Index { return q },
			fx.As(new(Index)),
		),
	),
	fx.Invoke(ensureCollection),
)

// ensureCollection creates the collection at startup. A dimension mismatch
// with an existing collection aborts boot; changing the embedding dimension
// requires re-ingestion into a fresh collection.
func ensureCollection(lc fx.Lifecycle, index Index, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return index.EnsureCollection(ctx, cfg.Embedding.Dimension)
		},
	})
}

// Point is one chunk embedding with its full payload: the tenant isolation
// key plus the denormalized document fields a hit can be served from without
// touching the database.
type Point struct {
	ID         string // chunk id, UUID
	Vector     []float32
	TenantID   string
	DocumentID string
	ChunkIndex int
	Filename   string
	Metadata   map[string]string
}

// Match is one search hit with the stored payload echoed back.
type Match struct {
	ChunkID    string
	TenantID   string
	DocumentID string
	ChunkIndex int
	Score      float32
	Filename   string
	Metadata   map[string]string
}

// Index is the vector store. Implementations must treat TenantID as an
// isolation boundary: Search never returns points of another tenant.
type Index interface {
	// EnsureCollection creates the collection (cosine distance, the given
	// dimension) and the tenant_id keyword payload index if missing. When
	// the collection exists with a different dimension the mismatch is
	// returned as an error.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert writes points, overwriting existing ids. Idempotent.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to limit matches for the tenant, best first.
	// Matches scoring below threshold are dropped (threshold 0 keeps all).
	Search(ctx context.Context, tenantID string, vector []float32, limit int, threshold float32) ([]Match, error)

	// SearchAll is the unfiltered variant for the internal surface.
	SearchAll(ctx context.Context, vector []float32, limit int, threshold float32) ([]Match, error)

	// DeleteByDocument removes all points of one document within a tenant.
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error

	// DeleteByTenant removes every point of a tenant.
	DeleteByTenant(ctx context.Context, tenantID string) error

	// CountByTenant returns the number of points stored for a tenant.
	CountByTenant(ctx context.Context, tenantID string) (uint64, error)
}
