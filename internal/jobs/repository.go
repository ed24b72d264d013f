package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/pagemill/pagemill/internal/queue"
	"github.com/pagemill/pagemill/pkg/apperror"
	"github.com/pagemill/pagemill/pkg/logger"
)

var Module = fx.Module("jobs",
	fx.Provide(NewRepository),
)

// Repository handles database operations for jobs. State transitions are
// conditional updates so concurrent workers cannot double-process: the loser
// of a race sees zero rows affected and moves on.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("jobs.repo")),
	}
}

// Create inserts a pending job row.
func (r *Repository) Create(ctx context.Context, job *Job) error {
	if job.Status == "" {
		job.Status = StatusPending
	}
	_, err := r.db.NewInsert().Model(job).Returning("*").Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to create job", err)
	}
	return nil
}

// GetByID returns one job without tenant scoping (worker path; workers trust
// ids they popped from the substrate).
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	err := r.db.NewSelect().Model(&job).Where("j.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("job", id.String())
		}
		return nil, apperror.NewInternal("failed to get job", err)
	}
	return &job, nil
}

// MarkProcessing is the lease fence: pending → processing succeeds for
// exactly one caller. Returns false when another worker already claimed the
// job or it reached a terminal state.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusProcessing).
		Set("started_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = ?", StatusPending).
		Exec(ctx)
	if err != nil {
		return false, apperror.NewInternal("failed to claim job", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkCompleted finishes a processing job.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusCompleted).
		Set("completed_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = ?", StatusProcessing).
		Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to complete job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s not in processing state", id)
	}
	return nil
}

// MarkRetry returns a processing job to pending with the incremented retry
// count recorded. The caller re-enqueues it with a backoff score.
func (r *Repository) MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	_, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusPending).
		Set("retry_count = ?", retryCount).
		Set("error_message = ?", truncateError(errMsg)).
		Set("started_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = ?", StatusProcessing).
		Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to schedule job retry", err)
	}
	return nil
}

// MarkDead dead-letters a job. Dead jobs are kept for inspection.
func (r *Repository) MarkDead(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusDead).
		Set("error_message = ?", truncateError(errMsg)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status NOT IN (?, ?)", StatusCompleted, StatusDead).
		Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to dead-letter job", err)
	}
	return nil
}

// ListByDocument returns all jobs of one document, tenant-scoped.
func (r *Repository) ListByDocument(ctx context.Context, tenantID, documentID uuid.UUID) ([]*Job, error) {
	var list []*Job
	err := r.db.NewSelect().
		Model(&list).
		Where("j.tenant_id = ?", tenantID).
		Where("j.document_id = ?", documentID).
		Order("j.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.NewInternal("failed to list jobs", err)
	}
	return list, nil
}

// DeleteByDocument removes all jobs of a document and returns the deleted
// ids, which callers need to clean up snapshot blobs.
func (r *Repository) DeleteByDocument(ctx context.Context, tenantID, documentID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.NewDelete().
		Model((*Job)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("document_id = ?", documentID).
		Returning("id").
		Scan(ctx, &ids)
	if err != nil {
		return nil, apperror.NewInternal("failed to delete jobs", err)
	}
	return ids, nil
}

// RecoverStale returns jobs stuck in processing longer than the threshold to
// pending, counting the lost attempt as a retry, and reports them so the
// caller can re-enqueue. This runs at worker startup and covers crashes
// mid-job.
func (r *Repository) RecoverStale(ctx context.Context, threshold time.Duration) ([]*Job, error) {
	var recovered []*Job
	_, err := r.db.NewUpdate().
		Model(&recovered).
		Set("status = ?", StatusPending).
		Set("retry_count = retry_count + 1").
		Set("started_at = NULL").
		Set("updated_at = now()").
		Where("status = ?", StatusProcessing).
		Where("started_at < now() - (? || ' seconds')::interval", int(threshold.Seconds())).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, apperror.NewInternal("failed to recover stale jobs", err)
	}

	if len(recovered) > 0 {
		r.log.Warn("recovered stale jobs",
			slog.Int("count", len(recovered)),
			slog.Duration("threshold", threshold),
		)
	}
	return recovered, nil
}

// StageStatuses aggregates job state per stage for a document's status
// response.
func (r *Repository) StageStatuses(ctx context.Context, tenantID, documentID uuid.UUID) ([]*StageStatus, error) {
	list, err := r.ListByDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}

	byStage := make(map[queue.Stage]*StageStatus)
	for _, job := range list {
		ss, ok := byStage[job.Stage]
		if !ok {
			ss = &StageStatus{Stage: job.Stage}
			byStage[job.Stage] = ss
		}
		ss.Total++
		if job.Status == StatusCompleted {
			ss.Done++
		}
	}

	out := make([]*StageStatus, 0, len(byStage))
	for _, stage := range queue.Stages {
		ss, ok := byStage[stage]
		if !ok {
			continue
		}
		ss.Status = summarizeStage(ss, listForStage(list, stage))
		out = append(out, ss)
	}
	return out, nil
}

func listForStage(list []*Job, stage queue.Stage) []*Job {
	var out []*Job
	for _, j := range list {
		if j.Stage == stage {
			out = append(out, j)
		}
	}
	return out
}

// summarizeStage collapses a stage's jobs to a single status: dead wins,
// then processing, then pending, then completed.
func summarizeStage(ss *StageStatus, stageJobs []*Job) string {
	hasDead, hasProcessing, hasPending := false, false, false
	for _, j := range stageJobs {
		switch j.Status {
		case StatusDead, StatusFailed:
			hasDead = true
		case StatusProcessing:
			hasProcessing = true
		case StatusPending:
			hasPending = true
		}
	}
	switch {
	case hasDead:
		return "failed"
	case hasProcessing:
		return "processing"
	case hasPending:
		return "pending"
	default:
		return "completed"
	}
}

// GetStats returns global per-status job counts.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'dead') AS dead
		FROM jobs`).
		Scan(ctx, &stats.Pending, &stats.Processing, &stats.Completed, &stats.Dead)
	if err != nil {
		return nil, apperror.NewInternal("failed to get job stats", err)
	}
	return stats, nil
}

// truncateError bounds stored error messages.
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
