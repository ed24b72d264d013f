package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pagemill/pagemill/domain/documents"
	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/internal/jobs"
	"github.com/pagemill/pagemill/internal/queue"
	"github.com/pagemill/pagemill/internal/storage"
	"github.com/pagemill/pagemill/internal/vectorindex"
	"github.com/pagemill/pagemill/pkg/embeddings"
	"github.com/pagemill/pagemill/pkg/logger"
)

// EmbedProcessor runs the final stage: chunk batch in, vectors in the index
// out. The vectors are checkpointed to a blob snapshot before the upsert so a
// retry after an index outage replays the upsert without re-embedding.
type EmbedProcessor struct {
	docs     *documents.Repository
	blobs    storage.BlobStore
	index    vectorindex.Index
	embedder embeddings.Embedder
	cfg      *config.Config
	log      *slog.Logger
}

func NewEmbedProcessor(
	docs *documents.Repository,
	blobs storage.BlobStore,
	index vectorindex.Index,
	embedder embeddings.Embedder,
	cfg *config.Config,
	log *slog.Logger,
) *EmbedProcessor {
	return &EmbedProcessor{
		docs:     docs,
		blobs:    blobs,
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		log:      log.With(logger.Scope("pipeline.embed")),
	}
}

func (p *EmbedProcessor) Stage() queue.Stage { return queue.StageEmbed }

func (p *EmbedProcessor) Timeout() time.Duration { return p.cfg.Pipeline.EmbedTimeout }

// Process embeds one chunk batch and upserts the vectors. Completion of the
// document is judged from chunk rows, not from job state, so concurrent
// batches racing to finish resolve correctly: the last one to zero out the
// unembedded count flips the document to completed.
func (p *EmbedProcessor) Process(ctx context.Context, job *jobs.Job) error {
	var payload jobs.EmbedPayload
	if err := jobs.DecodePayload(job, &payload); err != nil {
		return err
	}

	ids := make([]uuid.UUID, 0, len(payload.ChunkIDs))
	for _, raw := range payload.ChunkIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: bad chunk id %q", embeddings.ErrPermanent, raw)
		}
		ids = append(ids, id)
	}

	chunks, err := p.docs.GetChunksByIDs(ctx, job.TenantID, ids)
	if err != nil {
		return err
	}
	// The document was deleted mid-flight; nothing left to embed.
	if len(chunks) == 0 {
		p.log.Info("embed batch has no surviving chunks",
			slog.String("job_id", job.ID.String()),
		)
		return nil
	}

	pending := make([]*documents.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.VectorSnapshotPath == nil {
			pending = append(pending, chunk)
		}
	}
	if len(pending) > 0 {
		if err := p.embedAndUpsert(ctx, job, payload.Filename, pending); err != nil {
			return err
		}
	}

	remaining, err := p.docs.CountUnembeddedChunks(ctx, job.DocumentID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if _, err := p.docs.AdvanceStatus(ctx, job.DocumentID,
			[]documents.DocumentStatus{documents.StatusEmbedding},
			documents.StatusCompleted,
		); err != nil {
			return err
		}
		p.log.Info("document completed",
			slog.String("document_id", job.DocumentID.String()),
		)
	}
	return nil
}

func (p *EmbedProcessor) embedAndUpsert(ctx context.Context, job *jobs.Job, filename string, chunks []*documents.Chunk) error {
	chunkIDs := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		chunkIDs[i] = chunk.ID.String()
		texts[i] = chunk.Text
	}

	snapKey := storage.SnapshotKey(job.ID.String())
	vectors, err := p.loadSnapshot(ctx, snapKey, chunkIDs)
	if err != nil {
		return err
	}
	if vectors == nil {
		vectors, err = p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(vectors) != len(chunks) {
			return fmt.Errorf("%w: embedder returned %d vectors for %d chunks",
				embeddings.ErrPermanent, len(vectors), len(chunks))
		}

		encoded, err := EncodeSnapshot(chunkIDs, vectors)
		if err != nil {
			return err
		}
		if err := p.blobs.Put(ctx, snapKey, bytes.NewReader(encoded), int64(len(encoded)), "application/json"); err != nil {
			return fmt.Errorf("store snapshot: %w", err)
		}
	}

	points := make([]vectorindex.Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = vectorindex.Point{
			ID:         chunk.ID.String(),
			Vector:     vectors[i],
			TenantID:   chunk.TenantID.String(),
			DocumentID: chunk.DocumentID.String(),
			ChunkIndex: chunk.ChunkIndex,
			Filename:   filename,
			Metadata:   chunk.Metadata,
		}
	}
	if err := p.index.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}

	ids := make([]uuid.UUID, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	return p.docs.SetChunkSnapshotPaths(ctx, job.TenantID, ids, snapKey)
}

// loadSnapshot returns the checkpointed vectors for exactly this chunk set,
// nil when no usable snapshot exists. A stale or malformed snapshot is
// discarded rather than trusted.
func (p *EmbedProcessor) loadSnapshot(ctx context.Context, key string, chunkIDs []string) ([][]float32, error) {
	exists, err := p.blobs.Exists(ctx, key)
	if err != nil || !exists {
		return nil, err
	}

	rc, err := p.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		p.log.Warn("discarding malformed snapshot",
			slog.String("key", key),
			logger.Error(err),
		)
		return nil, nil
	}
	if len(snap.ChunkIDs) != len(chunkIDs) {
		return nil, nil
	}
	byID := make(map[string][]float32, len(snap.ChunkIDs))
	for i, id := range snap.ChunkIDs {
		byID[id] = snap.Vectors[i]
	}
	vectors := make([][]float32, len(chunkIDs))
	for i, id := range chunkIDs {
		v, ok := byID[id]
		if !ok {
			return nil, nil
		}
		vectors[i] = v
	}

	p.log.Info("reusing embedding snapshot", slog.String("key", key))
	return vectors, nil
}
