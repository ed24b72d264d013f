package pipeline

import (
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
	"github.com/pagemill/pagemill/pkg/logger"
	"github.com/pagemill/pagemill/pkg/textsplitter"
)

// ChunkProcessor runs the second stage: extracted text in, chunk rows out,
// one embed job queued per chunk batch.
type ChunkProcessor struct {
	docs     *documents.Repository
	jobsRepo *jobs.Repository
	blobs    storage.BlobStore
	sub      queue.Substrate
	cfg      *config.Config
	log      *slog.Logger
}

func NewChunkProcessor(
	docs *documents.Repository,
	jobsRepo *jobs.Repository,
	blobs storage.BlobStore,
	sub queue.Substrate,
	cfg *config.Config,
	log *slog.Logger,
) *ChunkProcessor {
	return &ChunkProcessor{
		docs:     docs,
		jobsRepo: jobsRepo,
		blobs:    blobs,
		sub:      sub,
		cfg:      cfg,
		log:      log.With(logger.Scope("pipeline.chunk")),
	}
}

func (p *ChunkProcessor) Stage() queue.Stage { return queue.StageChunk }

func (p *ChunkProcessor) Timeout() time.Duration { return p.cfg.Pipeline.ChunkTimeout }

// Process splits the extracted text and fans out embed jobs. Chunking is
// deterministic, so a retry that re-runs after a partial insert would try to
// insert the same (document_id, chunk_index) rows; the unique constraint
// makes that loud instead of silent duplication, and the retry path deletes
// any partial rows first.
func (p *ChunkProcessor) Process(ctx context.Context, job *jobs.Job) error {
	var payload jobs.ChunkPayload
	if err := jobs.DecodePayload(job, &payload); err != nil {
		return err
	}

	// Chunk rows inherit the document's metadata so it travels with every
	// vector payload and search hit.
	doc, err := p.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		return err
	}

	rc, err := p.blobs.Get(ctx, payload.TextPath)
	if err != nil {
		return fmt.Errorf("load extracted text %s: %w", payload.TextPath, err)
	}
	text, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read extracted text %s: %w", payload.TextPath, err)
	}

	// A retry after a partial insert starts clean.
	if job.RetryCount > 0 {
		if _, _, err := p.docs.DeleteChunksByDocument(ctx, job.TenantID, job.DocumentID); err != nil {
			return err
		}
	}

	pieces := textsplitter.Split(string(text), textsplitter.Config{
		ChunkSize:    p.cfg.Pipeline.ChunkSize,
		ChunkOverlap: p.cfg.Pipeline.ChunkOverlap,
	})

	// Nothing to embed: the document is done as soon as its rows say so.
	if len(pieces) == 0 {
		if _, err := p.docs.AdvanceStatus(ctx, job.DocumentID,
			[]documents.DocumentStatus{documents.StatusChunking},
			documents.StatusCompleted,
		); err != nil {
			return err
		}
		p.log.Info("document yielded no chunks",
			slog.String("document_id", job.DocumentID.String()),
		)
		return nil
	}

	rows := make([]*documents.Chunk, len(pieces))
	for i, piece := range pieces {
		rows[i] = &documents.Chunk{
			ID:         uuid.New(),
			DocumentID: job.DocumentID,
			TenantID:   job.TenantID,
			ChunkIndex: piece.Index,
			Text:       piece.Text,
			Metadata:   doc.Metadata,
		}
	}
	if err := p.docs.InsertChunks(ctx, rows); err != nil {
		return err
	}

	if _, err := p.docs.AdvanceStatus(ctx, job.DocumentID,
		[]documents.DocumentStatus{documents.StatusChunking},
		documents.StatusEmbedding,
	); err != nil {
		return err
	}

	batchSize := p.cfg.Pipeline.EmbedBatchSize
	now := queue.Score(time.Now())
	batches := 0
	for startIdx := 0; startIdx < len(rows); startIdx += batchSize {
		endIdx := startIdx + batchSize
		if endIdx > len(rows) {
			endIdx = len(rows)
		}
		ids := make([]string, 0, endIdx-startIdx)
		for _, row := range rows[startIdx:endIdx] {
			ids = append(ids, row.ID.String())
		}

		embedPayload, err := jobs.EncodePayload(&jobs.EmbedPayload{
			DocumentID: job.DocumentID.String(),
			ChunkIDs:   ids,
			Filename:   payload.Filename,
		})
		if err != nil {
			return err
		}
		next := &jobs.Job{
			ID:         uuid.New(),
			TenantID:   job.TenantID,
			DocumentID: job.DocumentID,
			Stage:      queue.StageEmbed,
			Payload:    embedPayload,
			MaxRetries: p.cfg.Pipeline.MaxRetries,
		}
		if err := p.jobsRepo.Create(ctx, next); err != nil {
			return err
		}
		if err := p.sub.Enqueue(ctx, job.TenantID.String(), queue.StageEmbed, next.ID.String(), now); err != nil {
			return fmt.Errorf("enqueue embed job: %w", err)
		}
		batches++
	}

	p.log.Info("chunking completed",
		slog.String("document_id", job.DocumentID.String()),
		slog.Int("chunks", len(rows)),
		slog.Int("embed_batches", batches),
	)
	return nil
}
