package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pagemill/pagemill/domain/documents"
	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/internal/jobs"
	"github.com/pagemill/pagemill/internal/queue"
	"github.com/pagemill/pagemill/internal/storage"
	"github.com/pagemill/pagemill/pkg/extract"
	"github.com/pagemill/pagemill/pkg/logger"
)

// ExtractProcessor runs the first stage: raw upload bytes in, plain UTF-8
// text out, chunk job queued.
type ExtractProcessor struct {
	docs     *documents.Repository
	jobsRepo *jobs.Repository
	blobs    storage.BlobStore
	registry *extract.Registry
	sub      queue.Substrate
	cfg      *config.Config
	log      *slog.Logger
}

func NewExtractProcessor(
	docs *documents.Repository,
	jobsRepo *jobs.Repository,
	blobs storage.BlobStore,
	registry *extract.Registry,
	sub queue.Substrate,
	cfg *config.Config,
	log *slog.Logger,
) *ExtractProcessor {
	return &ExtractProcessor{
		docs:     docs,
		jobsRepo: jobsRepo,
		blobs:    blobs,
		registry: registry,
		sub:      sub,
		cfg:      cfg,
		log:      log.With(logger.Scope("pipeline.extract")),
	}
}

func (p *ExtractProcessor) Stage() queue.Stage { return queue.StageExtract }

func (p *ExtractProcessor) Timeout() time.Duration { return p.cfg.Pipeline.ExtractTimeout }

// Process extracts the document's text and hands off to the chunk stage.
// Re-running a completed extraction overwrites the same text blob with the
// same content, so crash-retry is safe.
func (p *ExtractProcessor) Process(ctx context.Context, job *jobs.Job) error {
	var payload jobs.ExtractPayload
	if err := jobs.DecodePayload(job, &payload); err != nil {
		return fmt.Errorf("%w: %v", extract.ErrPermanent, err)
	}

	if _, err := p.docs.AdvanceStatus(ctx, job.DocumentID,
		[]documents.DocumentStatus{documents.StatusPending, documents.StatusExtracting},
		documents.StatusExtracting,
	); err != nil {
		return err
	}

	rc, err := p.blobs.Get(ctx, payload.BlobPath)
	if err != nil {
		return fmt.Errorf("load raw blob %s: %w", payload.BlobPath, err)
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read raw blob %s: %w", payload.BlobPath, err)
	}

	extractor, err := p.registry.ForFilename(payload.Filename)
	if err != nil {
		return err
	}
	text, err := extractor.Extract(ctx, content, payload.Filename)
	if err != nil {
		return fmt.Errorf("extract %s: %w", payload.Filename, err)
	}

	textKey := storage.ExtractedKey(job.DocumentID.String())
	if err := p.blobs.Put(ctx, textKey, strings.NewReader(text), int64(len(text)), "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("store extracted text: %w", err)
	}

	if _, err := p.docs.AdvanceStatus(ctx, job.DocumentID,
		[]documents.DocumentStatus{documents.StatusExtracting},
		documents.StatusChunking,
	); err != nil {
		return err
	}

	chunkPayload, err := jobs.EncodePayload(&jobs.ChunkPayload{
		DocumentID: job.DocumentID.String(),
		TextPath:   textKey,
		Filename:   payload.Filename,
	})
	if err != nil {
		return err
	}
	next := &jobs.Job{
		ID:         uuid.New(),
		TenantID:   job.TenantID,
		DocumentID: job.DocumentID,
		Stage:      queue.StageChunk,
		Payload:    chunkPayload,
		MaxRetries: p.cfg.Pipeline.MaxRetries,
	}
	if err := p.jobsRepo.Create(ctx, next); err != nil {
		return err
	}
	if err := p.sub.Enqueue(ctx, job.TenantID.String(), queue.StageChunk, next.ID.String(), queue.Score(time.Now())); err != nil {
		return fmt.Errorf("enqueue chunk job: %w", err)
	}

	p.log.Info("extraction completed",
		slog.String("document_id", job.DocumentID.String()),
		slog.Int("text_bytes", len(text)),
	)
	return nil
}
