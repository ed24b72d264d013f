package search

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pagemill/pagemill/domain/documents"
	"github.com/pagemill/pagemill/internal/vectorindex"
	"github.com/pagemill/pagemill/pkg/apperror"
	"github.com/pagemill/pagemill/pkg/auth"
	"github.com/pagemill/pagemill/pkg/embeddings"
	"github.com/pagemill/pagemill/pkg/logger"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	maxQueryLen  = 8192
)

// Service answers semantic search queries. Query vectors come from the same
// embedder as document vectors, and every index search carries the tenant
// filter; a foreign result surviving the filter is treated as a fault, not
// filtered quietly.
type Service struct {
	index    vectorindex.Index
	embedder embeddings.Embedder
	docs     *documents.Repository
	log      *slog.Logger
}

func NewService(
	index vectorindex.Index,
	embedder embeddings.Embedder,
	docs *documents.Repository,
	log *slog.Logger,
) *Service {
	return &Service{
		index:    index,
		embedder: embedder,
		docs:     docs,
		log:      log.With(logger.Scope("search.svc")),
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func validateQuery(query string) error {
	if query == "" {
		return apperror.NewBadRequest("query is required")
	}
	if len(query) > maxQueryLen {
		return apperror.NewBadRequest("query too long")
	}
	return nil
}

// Search runs a tenant-scoped semantic search and resolves each hit's chunk
// text and filename from the database.
func (s *Service) Search(ctx context.Context, tenant *auth.Tenant, req *SearchRequest) (*SearchResponse, error) {
	if err := validateQuery(req.Query); err != nil {
		return nil, err
	}
	limit := clampLimit(req.Limit)

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, apperror.NewInternal("failed to embed query", err)
	}

	matches, err := s.index.Search(ctx, tenant.ID, vector, limit, req.ScoreThreshold)
	if err != nil {
		return nil, apperror.NewInternal("vector search failed", err)
	}

	// Hard isolation check. The index already filtered by tenant; a foreign
	// match here means the filter or the stored payloads are broken, and
	// serving partial results would hide that.
	for _, m := range matches {
		if m.TenantID != tenant.ID {
			s.log.Error("cross-tenant result leaked through index filter",
				slog.String("tenant_id", tenant.ID),
				slog.String("result_tenant_id", m.TenantID),
				slog.String("chunk_id", m.ChunkID),
			)
			return nil, apperror.ErrConsistencyViolation
		}
	}

	return s.resolve(ctx, tenant, matches)
}

// resolve joins index matches with chunk text and document filenames. A match
// whose chunk row is gone (deletion racing the search) is dropped.
func (s *Service) resolve(ctx context.Context, tenant *auth.Tenant, matches []vectorindex.Match) (*SearchResponse, error) {
	tenantID, err := uuid.Parse(tenant.ID)
	if err != nil {
		return nil, apperror.NewInternal("invalid tenant id in context", err)
	}

	chunkIDs := make([]uuid.UUID, 0, len(matches))
	docIDs := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		chunkID, err := uuid.Parse(m.ChunkID)
		if err != nil {
			continue
		}
		docID, err := uuid.Parse(m.DocumentID)
		if err != nil {
			continue
		}
		chunkIDs = append(chunkIDs, chunkID)
		docIDs = append(docIDs, docID)
	}

	chunkRows := make(map[string]*documents.Chunk, len(chunkIDs))
	if len(chunkIDs) > 0 {
		chunks, err := s.docs.GetChunksByIDs(ctx, tenantID, chunkIDs)
		if err != nil {
			return nil, err
		}
		for _, chunk := range chunks {
			chunkRows[chunk.ID.String()] = chunk
		}
	}

	filenames, err := s.docs.Filenames(ctx, tenantID, docIDs)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(matches))
	for _, m := range matches {
		chunk, ok := chunkRows[m.ChunkID]
		if !ok {
			continue
		}
		docID, err := uuid.Parse(m.DocumentID)
		if err != nil {
			continue
		}
		results = append(results, &Result{
			ChunkID:    m.ChunkID,
			DocumentID: m.DocumentID,
			Filename:   filenames[docID],
			ChunkIndex: m.ChunkIndex,
			Score:      m.Score,
			Text:       chunk.Text,
			Metadata:   chunk.Metadata,
		})
	}

	return &SearchResponse{Results: results, TotalCount: len(results)}, nil
}

// SearchAll runs an unfiltered search across every tenant for the internal
// surface.
func (s *Service) SearchAll(ctx context.Context, req *InternalSearchRequest) (*InternalSearchResponse, error) {
	if err := validateQuery(req.Query); err != nil {
		return nil, err
	}
	limit := clampLimit(req.Limit)

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, apperror.NewInternal("failed to embed query", err)
	}

	matches, err := s.index.SearchAll(ctx, vector, limit, req.ScoreThreshold)
	if err != nil {
		return nil, apperror.NewInternal("vector search failed", err)
	}

	results := make([]*InternalResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, &InternalResult{
			ChunkID:    m.ChunkID,
			TenantID:   m.TenantID,
			DocumentID: m.DocumentID,
			ChunkIndex: m.ChunkIndex,
			Score:      m.Score,
			Filename:   m.Filename,
			Metadata:   m.Metadata,
		})
	}
	return &InternalSearchResponse{Results: results, TotalCount: len(results)}, nil
}
