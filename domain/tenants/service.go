package tenants

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/internal/queue"
	"github.com/pagemill/pagemill/internal/storage"
	"github.com/pagemill/pagemill/internal/vectorindex"
	"github.com/pagemill/pagemill/pkg/apperror"
	"github.com/pagemill/pagemill/pkg/auth"
	"github.com/pagemill/pagemill/pkg/logger"
)

// Service handles tenant lifecycle: creation with one-time key issuance,
// credential rotation, and cascading deletion across all stores.
type Service struct {
	repo  *Repository
	db    bun.IDB
	index vectorindex.Index
	blobs storage.BlobStore
	sub   queue.Substrate
	cfg   *config.Config
	log   *slog.Logger
}

func NewService(
	repo *Repository,
	db bun.IDB,
	index vectorindex.Index,
	blobs storage.BlobStore,
	sub queue.Substrate,
	cfg *config.Config,
	log *slog.Logger,
) *Service {
	return &Service{
		repo:  repo,
		db:    db,
		index: index,
		blobs: blobs,
		sub:   sub,
		cfg:   cfg,
		log:   log.With(logger.Scope("tenants.svc")),
	}
}

// Create provisions a tenant and returns the plaintext API key exactly once.
func (s *Service) Create(ctx context.Context, req *CreateTenantRequest) (*TenantCreatedResponse, error) {
	if req.Name == "" {
		return nil, apperror.NewBadRequest("tenant name is required")
	}

	limit := req.RateLimitPerMinute
	if limit <= 0 {
		limit = s.cfg.RateLimit.DefaultLimit
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, apperror.NewInternal("failed to generate API key", err)
	}

	tenant := &Tenant{
		Name:                  req.Name,
		CredentialFingerprint: auth.Fingerprint(apiKey),
		RateLimitPerMinute:    limit,
	}
	if err := s.repo.Create(ctx, tenant); err != nil {
		return nil, err
	}

	s.log.Info("tenant created",
		slog.String("tenant_id", tenant.ID.String()),
		slog.String("name", tenant.Name),
		slog.Int("rate_limit", tenant.RateLimitPerMinute),
	)

	return &TenantCreatedResponse{
		ID:                 tenant.ID.String(),
		Name:               tenant.Name,
		APIKey:             apiKey,
		RateLimitPerMinute: tenant.RateLimitPerMinute,
		CreatedAt:          tenant.CreatedAt.Format(time.RFC3339),
	}, nil
}

// List returns all tenants.
func (s *Service) List(ctx context.Context) (*ListTenantsResponse, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	dtos := make([]*TenantDTO, 0, len(list))
	for _, t := range list {
		dtos = append(dtos, t.ToDTO())
	}
	return &ListTenantsResponse{Data: dtos, TotalCount: len(dtos)}, nil
}

// Get returns one tenant.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*TenantDTO, error) {
	tenant, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return tenant.ToDTO(), nil
}

// RotateCredential replaces the tenant's API key and returns the new
// plaintext exactly once. The old key stops working immediately.
func (s *Service) RotateCredential(ctx context.Context, id uuid.UUID) (*RotateCredentialResponse, error) {
	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, apperror.NewInternal("failed to generate API key", err)
	}
	if err := s.repo.UpdateFingerprint(ctx, id, auth.Fingerprint(apiKey)); err != nil {
		return nil, err
	}

	s.log.Info("tenant credential rotated", slog.String("tenant_id", id.String()))
	return &RotateCredentialResponse{ID: id.String(), APIKey: apiKey}, nil
}

// Delete removes the tenant and everything it owns, in the same store order
// as document deletion: vectors, chunk rows, job rows, blobs, metadata rows.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (*DeleteTenantResponse, error) {
	tenant, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tenantID := tenant.ID.String()

	vectorCount, err := s.index.CountByTenant(ctx, tenantID)
	if err != nil {
		s.log.Warn("failed to count tenant vectors before delete", logger.Error(err))
	}
	if err := s.index.DeleteByTenant(ctx, tenantID); err != nil {
		return nil, apperror.NewInternal("failed to delete tenant vectors", err)
	}

	chunksRes, err := s.db.NewDelete().
		Table("chunks").
		Where("tenant_id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, apperror.NewInternal("failed to delete tenant chunks", err)
	}
	chunksDeleted, _ := chunksRes.RowsAffected()

	// Snapshot blobs are keyed by job id; collect ids before deleting rows.
	var jobIDs []uuid.UUID
	if err := s.db.NewSelect().
		Table("jobs").
		Column("id").
		Where("tenant_id = ?", id).
		Scan(ctx, &jobIDs); err != nil {
		return nil, apperror.NewInternal("failed to list tenant jobs", err)
	}

	var docIDs []uuid.UUID
	if err := s.db.NewSelect().
		Table("documents").
		Column("id").
		Where("tenant_id = ?", id).
		Scan(ctx, &docIDs); err != nil {
		return nil, apperror.NewInternal("failed to list tenant documents", err)
	}

	jobsRes, err := s.db.NewDelete().
		Table("jobs").
		Where("tenant_id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, apperror.NewInternal("failed to delete tenant jobs", err)
	}
	jobsDeleted, _ := jobsRes.RowsAffected()

	for _, docID := range docIDs {
		if _, err := s.blobs.DeletePrefix(ctx, storage.RawPrefix(docID.String())); err != nil {
			s.log.Warn("failed to delete raw blobs",
				slog.String("document_id", docID.String()),
				logger.Error(err),
			)
		}
		if err := s.blobs.Delete(ctx, storage.ExtractedKey(docID.String())); err != nil {
			s.log.Warn("failed to delete extracted text",
				slog.String("document_id", docID.String()),
				logger.Error(err),
			)
		}
	}
	for _, jobID := range jobIDs {
		if err := s.blobs.Delete(ctx, storage.SnapshotKey(jobID.String())); err != nil {
			s.log.Warn("failed to delete snapshot blob",
				slog.String("job_id", jobID.String()),
				logger.Error(err),
			)
		}
	}

	docsRes, err := s.db.NewDelete().
		Table("documents").
		Where("tenant_id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, apperror.NewInternal("failed to delete tenant documents", err)
	}
	docsDeleted, _ := docsRes.RowsAffected()

	// Drop any still-queued work, deferred retries included, so workers never
	// pick up orphans.
	for _, stage := range queue.Stages {
		if err := s.sub.DeleteQueue(ctx, tenantID, stage); err != nil {
			s.log.Warn("failed to drop tenant queue",
				slog.String("stage", string(stage)),
				logger.Error(err),
			)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, err
	}

	s.log.Info("tenant deleted",
		slog.String("tenant_id", tenantID),
		slog.Int64("documents", docsDeleted),
		slog.Int64("chunks", chunksDeleted),
		slog.Uint64("vectors", vectorCount),
	)

	return &DeleteTenantResponse{
		Deleted:          true,
		DocumentsDeleted: int(docsDeleted),
		ChunksDeleted:    int(chunksDeleted),
		VectorsDeleted:   int64(vectorCount),
		JobsDeleted:      int(jobsDeleted),
	}, nil
}
