package vectorindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/fx"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/pkg/logger"
)

const (
	payloadTenantID   = "tenant_id"
	payloadDocumentID = "document_id"
	payloadChunkIndex = "chunk_index"
	payloadFilename   = "filename"
	payloadMetadata   = "metadata"
)

// QdrantIndex implements Index on a Qdrant collection.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	log        *slog.Logger
}

// NewQdrantIndex connects to Qdrant and registers client shutdown.
func NewQdrantIndex(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*QdrantIndex, error) {
	log = log.With(logger.Scope("vectorindex"))

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	log.Info("qdrant client created",
		slog.String("host", cfg.Qdrant.Host),
		slog.Int("port", cfg.Qdrant.Port),
		slog.String("collection", cfg.Qdrant.Collection),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing qdrant client")
			return client.Close()
		},
	})

	return &QdrantIndex{
		client:     client,
		collection: cfg.Qdrant.Collection,
		log:        log,
	}, nil
}

func (q *QdrantIndex) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}

	if exists {
		info, err := q.client.GetCollectionInfo(ctx, q.collection)
		if err != nil {
			return fmt.Errorf("get collection info: %w", err)
		}
		params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
		if params != nil && params.GetSize() != uint64(dimension) {
			return fmt.Errorf(
				"collection %s has dimension %d, configured dimension is %d: re-ingestion into a fresh collection required",
				q.collection, params.GetSize(), dimension,
			)
		}
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	// Keyword index on tenant_id keeps filtered search fast as the
	// collection grows.
	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      payloadTenantID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("create tenant_id payload index: %w", err)
	}

	q.log.Info("collection created",
		slog.String("collection", q.collection),
		slog.Int("dimension", dimension),
	)
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := map[string]any{
			payloadTenantID:   p.TenantID,
			payloadDocumentID: p.DocumentID,
			payloadChunkIndex: int64(p.ChunkIndex),
			payloadFilename:   p.Filename,
		}
		if len(p.Metadata) > 0 {
			meta := make(map[string]any, len(p.Metadata))
			for k, v := range p.Metadata {
				meta[k] = v
			}
			payload[payloadMetadata] = meta
		}
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

func tenantFilter(tenantID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(payloadTenantID, tenantID),
		},
	}
}

func (q *QdrantIndex) Search(ctx context.Context, tenantID string, vector []float32, limit int, threshold float32) ([]Match, error) {
	return q.query(ctx, tenantFilter(tenantID), vector, limit, threshold)
}

func (q *QdrantIndex) SearchAll(ctx context.Context, vector []float32, limit int, threshold float32) ([]Match, error) {
	return q.query(ctx, nil, vector, limit, threshold)
}

func (q *QdrantIndex) query(ctx context.Context, filter *qdrant.Filter, vector []float32, limit int, threshold float32) ([]Match, error) {
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if threshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(threshold)
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, Match{
			ChunkID:    p.GetId().GetUuid(),
			TenantID:   p.GetPayload()[payloadTenantID].GetStringValue(),
			DocumentID: p.GetPayload()[payloadDocumentID].GetStringValue(),
			ChunkIndex: int(p.GetPayload()[payloadChunkIndex].GetIntegerValue()),
			Score:      p.GetScore(),
			Filename:   p.GetPayload()[payloadFilename].GetStringValue(),
			Metadata:   metadataFromPayload(p.GetPayload()[payloadMetadata]),
		})
	}
	return matches, nil
}

// metadataFromPayload flattens the stored metadata struct back to strings.
func metadataFromPayload(v *qdrant.Value) map[string]string {
	fields := v.GetStructValue().GetFields()
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, fv := range fields {
		out[k] = fv.GetStringValue()
	}
	return out
}

func (q *QdrantIndex) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(payloadTenantID, tenantID),
			qdrant.NewMatch(payloadDocumentID, documentID),
		},
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete by document %s: %w", documentID, err)
	}
	return nil
}

func (q *QdrantIndex) DeleteByTenant(ctx context.Context, tenantID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorFilter(tenantFilter(tenantID)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete by tenant: %w", err)
	}
	return nil
}

func (q *QdrantIndex) CountByTenant(ctx context.Context, tenantID string) (uint64, error) {
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Filter:         tenantFilter(tenantID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count by tenant: %w", err)
	}
	return count, nil
}
