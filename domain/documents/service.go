package documents

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/google/uuid"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/internal/jobs"
	"github.com/pagemill/pagemill/internal/queue"
	"github.com/pagemill/pagemill/internal/ratelimit"
	"github.com/pagemill/pagemill/internal/storage"
	"github.com/pagemill/pagemill/internal/vectorindex"
	"github.com/pagemill/pagemill/pkg/apperror"
	"github.com/pagemill/pagemill/pkg/auth"
	"github.com/pagemill/pagemill/pkg/extract"
	"github.com/pagemill/pagemill/pkg/logger"
)

// maxBulkFiles bounds one bulk upload request.
const maxBulkFiles = 100

// Service handles document ingestion, status reporting, and cascading
// deletion. Uploads are accepted synchronously (blob + rows written) and
// processed asynchronously by the pipeline workers.
type Service struct {
	repo     *Repository
	jobsRepo *jobs.Repository
	blobs    storage.BlobStore
	index    vectorindex.Index
	sub      queue.Substrate
	registry *extract.Registry
	limiter  ratelimit.Limiter
	cfg      *config.Config
	log      *slog.Logger
}

func NewService(
	repo *Repository,
	jobsRepo *jobs.Repository,
	blobs storage.BlobStore,
	index vectorindex.Index,
	sub queue.Substrate,
	registry *extract.Registry,
	limiter ratelimit.Limiter,
	cfg *config.Config,
	log *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		jobsRepo: jobsRepo,
		blobs:    blobs,
		index:    index,
		sub:      sub,
		registry: registry,
		limiter:  limiter,
		cfg:      cfg,
		log:      log.With(logger.Scope("documents.svc")),
	}
}

// Upload accepts one file: validates it, stores the raw bytes, creates the
// document row and its extract job, and enqueues the job at the current
// epoch score. The document is processed asynchronously. Metadata is stored
// on the row and propagated to every chunk and vector point derived from it.
func (s *Service) Upload(ctx context.Context, tenant *auth.Tenant, file *multipart.FileHeader, metadata map[string]string) (*UploadResponse, error) {
	if err := s.validate(file); err != nil {
		return nil, err
	}

	tenantID, err := uuid.Parse(tenant.ID)
	if err != nil {
		return nil, apperror.NewInternal("invalid tenant id in context", err)
	}

	src, err := file.Open()
	if err != nil {
		return nil, apperror.NewBadRequest("failed to read uploaded file")
	}
	defer src.Close()

	content, err := io.ReadAll(io.LimitReader(src, s.cfg.Storage.MaxFileSizeBytes+1))
	if err != nil {
		return nil, apperror.NewInternal("failed to read uploaded file", err)
	}
	if int64(len(content)) > s.cfg.Storage.MaxFileSizeBytes {
		return nil, apperror.ErrPayloadTooLarge
	}

	doc := &Document{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Filename:  file.Filename,
		SizeBytes: int64(len(content)),
		Status:    StatusPending,
		Metadata:  metadata,
	}
	doc.BlobPath = storage.RawKey(doc.ID.String(), file.Filename)

	if err := s.blobs.Put(ctx, doc.BlobPath, bytes.NewReader(content), doc.SizeBytes, file.Header.Get("Content-Type")); err != nil {
		return nil, apperror.NewInternal("failed to store uploaded file", err)
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		// The orphaned blob gets no row pointing at it; best effort cleanup.
		if delErr := s.blobs.Delete(ctx, doc.BlobPath); delErr != nil {
			s.log.Warn("failed to clean up orphaned blob",
				slog.String("blob_path", doc.BlobPath),
				logger.Error(delErr),
			)
		}
		return nil, err
	}

	payload, err := jobs.EncodePayload(&jobs.ExtractPayload{
		DocumentID: doc.ID.String(),
		BlobPath:   doc.BlobPath,
		Filename:   doc.Filename,
	})
	if err != nil {
		return nil, apperror.NewInternal("failed to encode job payload", err)
	}
	job := &jobs.Job{
		ID:         uuid.New(),
		TenantID:   tenantID,
		DocumentID: doc.ID,
		Stage:      queue.StageExtract,
		Payload:    payload,
		MaxRetries: s.cfg.Pipeline.MaxRetries,
	}
	if err := s.jobsRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := s.sub.Enqueue(ctx, tenant.ID, queue.StageExtract, job.ID.String(), queue.Score(time.Now())); err != nil {
		return nil, apperror.NewInternal("failed to enqueue extract job", err)
	}

	s.log.Info("document uploaded",
		slog.String("tenant_id", tenant.ID),
		slog.String("document_id", doc.ID.String()),
		slog.String("filename", doc.Filename),
		slog.Int64("size_bytes", doc.SizeBytes),
	)

	return &UploadResponse{
		DocumentID: doc.ID.String(),
		Filename:   doc.Filename,
		Status:     string(StatusPending),
	}, nil
}

// BulkUpload accepts up to maxBulkFiles files, each handled independently:
// a rejected file lands in the Rejected list without failing the batch.
func (s *Service) BulkUpload(ctx context.Context, tenant *auth.Tenant, files []*multipart.FileHeader, metadata map[string]string) (*BulkUploadResponse, error) {
	if len(files) == 0 {
		return nil, apperror.NewBadRequest("no files in request")
	}
	if len(files) > maxBulkFiles {
		return nil, apperror.ErrBadRequest.WithMessage("too many files in one request").WithDetails(map[string]any{
			"max_files": maxBulkFiles,
			"got":       len(files),
		})
	}

	resp := &BulkUploadResponse{Accepted: []*UploadResponse{}}
	for _, file := range files {
		accepted, err := s.Upload(ctx, tenant, file, metadata)
		if err != nil {
			resp.Rejected = append(resp.Rejected, &RejectedUpload{
				Filename: file.Filename,
				Error:    rejectionMessage(err),
			})
			continue
		}
		resp.Accepted = append(resp.Accepted, accepted)
	}
	return resp, nil
}

// rejectionMessage turns an upload error into the per-file message of a bulk
// response without leaking internals.
func rejectionMessage(err error) string {
	if appErr, ok := err.(*apperror.Error); ok {
		return appErr.Message
	}
	return "upload failed"
}

// validate checks the declared size and that an extractor exists for the
// file type before any bytes are read.
func (s *Service) validate(file *multipart.FileHeader) error {
	if file.Size > s.cfg.Storage.MaxFileSizeBytes {
		return apperror.ErrPayloadTooLarge.WithDetails(map[string]any{
			"max_bytes": s.cfg.Storage.MaxFileSizeBytes,
			"got_bytes": file.Size,
		})
	}
	if _, err := s.registry.ForFilename(file.Filename); err != nil {
		return apperror.ErrBadRequest.WithMessage("unsupported file type").WithDetails(map[string]any{
			"filename":  file.Filename,
			"supported": s.registry.Supported(),
		})
	}
	return nil
}

// Status returns the document's overall status plus a per-stage breakdown
// derived from its job rows.
func (s *Service) Status(ctx context.Context, tenant *auth.Tenant, documentID uuid.UUID) (*StatusResponse, error) {
	tenantID, err := uuid.Parse(tenant.ID)
	if err != nil {
		return nil, apperror.NewInternal("invalid tenant id in context", err)
	}

	doc, err := s.repo.GetForTenant(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}

	stages, err := s.jobsRepo.StageStatuses(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}

	resp := &StatusResponse{
		DocumentID: doc.ID.String(),
		Filename:   doc.Filename,
		Status:     string(doc.Status),
		Stages:     make(map[string]*StageStatusDTO, len(stages)),
		CreatedAt:  doc.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  doc.UpdatedAt.Format(time.RFC3339),
	}
	for _, ss := range stages {
		resp.Stages[string(ss.Stage)] = &StageStatusDTO{
			Status: ss.Status,
			Total:  ss.Total,
			Done:   ss.Done,
		}
	}
	return resp, nil
}

// Delete cascades through the stores in dependency order: vectors first so
// search never returns a chunk whose row is gone, then chunk rows, job rows,
// blobs, and finally the document row. Queue entries for the document's jobs
// are removed so workers never pick up orphans. A mid-cascade failure marks
// the document failed_deletion; the reconciler retries it.
func (s *Service) Delete(ctx context.Context, tenant *auth.Tenant, documentID uuid.UUID) (*DeleteResponse, error) {
	tenantID, err := uuid.Parse(tenant.ID)
	if err != nil {
		return nil, apperror.NewInternal("invalid tenant id in context", err)
	}

	doc, err := s.repo.GetForTenant(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	return s.deleteCascade(ctx, doc)
}

// deleteCascade runs the store-ordered cascade for a document already loaded
// (and so already tenant-checked). Shared with the reconciler.
func (s *Service) deleteCascade(ctx context.Context, doc *Document) (*DeleteResponse, error) {
	tenantID := doc.TenantID
	docID := doc.ID

	fail := func(step string, err error) (*DeleteResponse, error) {
		if markErr := s.repo.MarkFailedDeletion(ctx, docID); markErr != nil {
			s.log.Error("failed to mark document for re-deletion",
				slog.String("document_id", docID.String()),
				logger.Error(markErr),
			)
		}
		s.log.Error("document deletion interrupted",
			slog.String("document_id", docID.String()),
			slog.String("step", step),
			logger.Error(err),
		)
		return nil, apperror.NewInternal("failed to delete document "+step, err)
	}

	if err := s.index.DeleteByDocument(ctx, tenantID.String(), docID.String()); err != nil {
		return fail("vectors", err)
	}

	chunksDeleted, embedded, err := s.repo.DeleteChunksByDocument(ctx, tenantID, docID)
	if err != nil {
		return fail("chunks", err)
	}

	// Drop queue entries before deleting job rows so a worker that pops a
	// stale id finds no row and skips it.
	jobList, err := s.jobsRepo.ListByDocument(ctx, tenantID, docID)
	if err != nil {
		return fail("jobs", err)
	}
	for _, job := range jobList {
		if job.Status.Terminal() {
			continue
		}
		if err := s.sub.Remove(ctx, tenantID.String(), job.Stage, job.ID.String()); err != nil {
			s.log.Warn("failed to remove queued job",
				slog.String("job_id", job.ID.String()),
				logger.Error(err),
			)
		}
	}

	jobIDs, err := s.jobsRepo.DeleteByDocument(ctx, tenantID, docID)
	if err != nil {
		return fail("jobs", err)
	}

	// Blob deletions are best effort: a missing object is success, a store
	// outage interrupts the cascade.
	if _, err := s.blobs.DeletePrefix(ctx, storage.RawPrefix(docID.String())); err != nil {
		return fail("blobs", err)
	}
	if err := s.blobs.Delete(ctx, storage.ExtractedKey(docID.String())); err != nil {
		s.log.Warn("failed to delete extracted text",
			slog.String("document_id", docID.String()),
			logger.Error(err),
		)
	}
	for _, jobID := range jobIDs {
		if err := s.blobs.Delete(ctx, storage.SnapshotKey(jobID.String())); err != nil {
			s.log.Warn("failed to delete snapshot blob",
				slog.String("job_id", jobID.String()),
				logger.Error(err),
			)
		}
	}

	if err := s.repo.Delete(ctx, tenantID, docID); err != nil {
		return fail("row", err)
	}

	s.log.Info("document deleted",
		slog.String("tenant_id", tenantID.String()),
		slog.String("document_id", docID.String()),
		slog.Int("chunks", chunksDeleted),
		slog.Int("vectors", embedded),
	)

	return &DeleteResponse{
		Deleted:        true,
		ChunksDeleted:  chunksDeleted,
		VectorsDeleted: embedded,
	}, nil
}

// RetryFailedDeletions re-runs the cascade for documents stuck in
// failed_deletion. Called by the reconciler on its sweep interval.
func (s *Service) RetryFailedDeletions(ctx context.Context, limit int) (int, error) {
	list, err := s.repo.ListFailedDeletions(ctx, limit)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, doc := range list {
		if _, err := s.deleteCascade(ctx, doc); err != nil {
			s.log.Warn("deletion retry failed",
				slog.String("document_id", doc.ID.String()),
				logger.Error(err),
			)
			continue
		}
		retried++
	}
	return retried, nil
}

// Metrics returns the tenant's corpus aggregates.
func (s *Service) Metrics(ctx context.Context, tenant *auth.Tenant) (*TenantMetrics, error) {
	tenantID, err := uuid.Parse(tenant.ID)
	if err != nil {
		return nil, apperror.NewInternal("invalid tenant id in context", err)
	}

	m, err := s.repo.Metrics(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	m.RateLimitPerMinute = tenant.RateLimitPerMinute
	used, err := s.limiter.Usage(ctx, tenant.ID)
	if err != nil {
		s.log.Warn("failed to read rate limit usage", logger.Error(err))
	}
	m.RateLimitUsed = used
	return m, nil
}

// ListAll serves the internal document listing.
func (s *Service) ListAll(ctx context.Context, tenantID *uuid.UUID, limit, offset int) ([]*DocumentDTO, error) {
	list, err := s.repo.ListAll(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	dtos := make([]*DocumentDTO, 0, len(list))
	for _, doc := range list {
		dtos = append(dtos, doc.ToDTO())
	}
	return dtos, nil
}

// GetInternal serves one document for the internal surface, unscoped.
func (s *Service) GetInternal(ctx context.Context, id uuid.UUID) (*DocumentDTO, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return doc.ToDTO(), nil
}

// Stats serves the global job counters and per-queue depths for the internal
// surface.
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	jobStats, err := s.jobsRepo.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	depths := []*QueueDepth{}
	for _, stage := range queue.Stages {
		tenantIDs, err := s.sub.ActiveTenants(ctx, stage)
		if err != nil {
			return nil, apperror.NewInternal("failed to list active tenants", err)
		}
		for _, tenantID := range tenantIDs {
			depth, err := s.sub.Len(ctx, tenantID, stage)
			if err != nil {
				return nil, apperror.NewInternal("failed to read queue depth", err)
			}
			depths = append(depths, &QueueDepth{
				Stage:    string(stage),
				TenantID: tenantID,
				Depth:    depth,
			})
		}
	}

	return &StatsResponse{Jobs: jobStats, Queues: depths}, nil
}
