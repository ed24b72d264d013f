package documents

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/pagemill/pagemill/pkg/apperror"
	"github.com/pagemill/pagemill/pkg/logger"
)

// Repository handles database operations for documents and chunks. Every
// tenant-facing query carries tenant_id; the unscoped variants exist only
// for the worker and internal paths.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("documents.repo")),
	}
}

// Create inserts a document row.
func (r *Repository) Create(ctx context.Context, doc *Document) error {
	_, err := r.db.NewInsert().Model(doc).Returning("*").Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to create document", err)
	}
	return nil
}

// GetForTenant returns one document scoped to the tenant. A document of
// another tenant is indistinguishable from a missing one.
func (r *Repository) GetForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Document, error) {
	var doc Document
	err := r.db.NewSelect().
		Model(&doc).
		Where("d.id = ?", id).
		Where("d.tenant_id = ?", tenantID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("document", id.String())
		}
		return nil, apperror.NewInternal("failed to get document", err)
	}
	return &doc, nil
}

// GetByID returns one document without tenant scoping (worker path).
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	err := r.db.NewSelect().Model(&doc).Where("d.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("document", id.String())
		}
		return nil, apperror.NewInternal("failed to get document", err)
	}
	return &doc, nil
}

// AdvanceStatus moves the document forward conditionally: the update applies
// only while the document is in one of the expected states, so concurrent
// retries and late writers cannot regress it.
func (r *Repository) AdvanceStatus(ctx context.Context, id uuid.UUID, from []DocumentStatus, to DocumentStatus) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", to).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return false, apperror.NewInternal("failed to advance document status", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkFailed transitions any non-terminal document to failed.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", StatusFailed).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status NOT IN (?)", bun.In([]DocumentStatus{StatusCompleted, StatusFailed})).
		Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to mark document failed", err)
	}
	return nil
}

// MarkFailedDeletion marks a document whose cascade was interrupted.
func (r *Repository) MarkFailedDeletion(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", StatusFailedDeletion).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to mark document for re-deletion", err)
	}
	return nil
}

// Delete removes the document row, tenant-scoped.
func (r *Repository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*Document)(nil)).
		Where("id = ?", id).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to delete document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("document", id.String())
	}
	return nil
}

// ListFailedDeletions returns documents awaiting deletion retry.
func (r *Repository) ListFailedDeletions(ctx context.Context, limit int) ([]*Document, error) {
	var list []*Document
	err := r.db.NewSelect().
		Model(&list).
		Where("d.status = ?", StatusFailedDeletion).
		Order("d.updated_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, apperror.NewInternal("failed to list failed deletions", err)
	}
	return list, nil
}

// ListAll returns documents for the internal surface, optionally filtered by
// tenant.
func (r *Repository) ListAll(ctx context.Context, tenantID *uuid.UUID, limit, offset int) ([]*Document, error) {
	var list []*Document
	q := r.db.NewSelect().
		Model(&list).
		Order("d.created_at DESC").
		Limit(limit).
		Offset(offset)
	if tenantID != nil {
		q = q.Where("d.tenant_id = ?", *tenantID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperror.NewInternal("failed to list documents", err)
	}
	return list, nil
}

// InsertChunks writes a document's chunk rows in one batch.
func (r *Repository) InsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	_, err := r.db.NewInsert().Model(&chunks).Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to insert chunks", err)
	}
	return nil
}

// GetChunksByIDs loads chunks by id, tenant-scoped, ordered by chunk_index.
func (r *Repository) GetChunksByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Chunk, error) {
	var chunks []*Chunk
	err := r.db.NewSelect().
		Model(&chunks).
		Where("c.tenant_id = ?", tenantID).
		Where("c.id IN (?)", bun.In(ids)).
		Order("c.chunk_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.NewInternal("failed to load chunks", err)
	}
	return chunks, nil
}

// GetChunkForTenant loads one chunk, tenant-scoped.
func (r *Repository) GetChunkForTenant(ctx context.Context, tenantID, chunkID uuid.UUID) (*Chunk, error) {
	var chunk Chunk
	err := r.db.NewSelect().
		Model(&chunk).
		Where("c.id = ?", chunkID).
		Where("c.tenant_id = ?", tenantID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("chunk", chunkID.String())
		}
		return nil, apperror.NewInternal("failed to get chunk", err)
	}
	return &chunk, nil
}

// SetChunkSnapshotPaths records the snapshot blob on each chunk after the
// vector upsert succeeded.
func (r *Repository) SetChunkSnapshotPaths(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, path string) error {
	_, err := r.db.NewUpdate().
		Model((*Chunk)(nil)).
		Set("vector_snapshot_path = ?", path).
		Where("tenant_id = ?", tenantID).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to record chunk snapshots", err)
	}
	return nil
}

// CountUnembeddedChunks returns how many of a document's chunks still lack a
// snapshot path. Zero means every chunk's vector is in the index.
func (r *Repository) CountUnembeddedChunks(ctx context.Context, documentID uuid.UUID) (int, error) {
	n, err := r.db.NewSelect().
		Model((*Chunk)(nil)).
		Where("document_id = ?", documentID).
		Where("vector_snapshot_path IS NULL").
		Count(ctx)
	if err != nil {
		return 0, apperror.NewInternal("failed to count unembedded chunks", err)
	}
	return n, nil
}

// DeleteChunksByDocument removes a document's chunk rows and reports counts:
// total deleted and how many had reached the vector index.
func (r *Repository) DeleteChunksByDocument(ctx context.Context, tenantID, documentID uuid.UUID) (deleted, embedded int, err error) {
	embedded, err = r.db.NewSelect().
		Model((*Chunk)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("document_id = ?", documentID).
		Where("vector_snapshot_path IS NOT NULL").
		Count(ctx)
	if err != nil {
		return 0, 0, apperror.NewInternal("failed to count embedded chunks", err)
	}

	res, err := r.db.NewDelete().
		Model((*Chunk)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return 0, 0, apperror.NewInternal("failed to delete chunks", err)
	}
	n, _ := res.RowsAffected()
	return int(n), embedded, nil
}

// Filenames maps document ids to filenames, tenant-scoped. Used by search to
// decorate results without one query per hit.
func (r *Repository) Filenames(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]string{}, nil
	}
	var docs []*Document
	err := r.db.NewSelect().
		Model(&docs).
		Column("d.id", "d.filename").
		Where("d.tenant_id = ?", tenantID).
		Where("d.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, apperror.NewInternal("failed to load document filenames", err)
	}
	out := make(map[uuid.UUID]string, len(docs))
	for _, doc := range docs {
		out[doc.ID] = doc.Filename
	}
	return out, nil
}

// Metrics aggregates the tenant's corpus for GET /metrics/me.
func (r *Repository) Metrics(ctx context.Context, tenantID uuid.UUID) (*TenantMetrics, error) {
	m := &TenantMetrics{DocumentsByStatus: make(map[string]int64)}

	type statusCount struct {
		Status string `bun:"status"`
		Count  int64  `bun:"count"`
		Bytes  int64  `bun:"bytes"`
	}
	var rows []statusCount
	err := r.db.NewSelect().
		Model((*Document)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("COALESCE(SUM(size_bytes), 0) AS bytes").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, apperror.NewInternal("failed to aggregate documents", err)
	}
	for _, row := range rows {
		m.DocumentsByStatus[row.Status] = row.Count
		m.Documents += row.Count
		m.TotalBytes += row.Bytes
	}

	chunks, err := r.db.NewSelect().
		Model((*Chunk)(nil)).
		Where("tenant_id = ?", tenantID).
		Count(ctx)
	if err != nil {
		return nil, apperror.NewInternal("failed to count chunks", err)
	}
	m.Chunks = int64(chunks)

	var lastUpload time.Time
	err = r.db.NewSelect().
		Model((*Document)(nil)).
		ColumnExpr("COALESCE(MAX(created_at), 'epoch'::timestamptz)").
		Where("tenant_id = ?", tenantID).
		Scan(ctx, &lastUpload)
	if err != nil {
		return nil, apperror.NewInternal("failed to find last upload", err)
	}
	if !lastUpload.IsZero() && lastUpload.Unix() > 0 {
		s := lastUpload.Format(time.RFC3339)
		m.LastUploadAt = &s
	}

	return m, nil
}
