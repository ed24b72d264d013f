package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/pagemill/pagemill/domain/documents"
	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/internal/jobs"
	"github.com/pagemill/pagemill/internal/queue"
	"github.com/pagemill/pagemill/pkg/logger"
)

// Runtime owns the three stage pools and the deletion reconciler. It recovers
// jobs orphaned by a crashed worker before any pool starts, so recovered work
// re-enters the queues ahead of new uploads racing in.
type Runtime struct {
	pools      []*Pool
	jobsRepo   *jobs.Repository
	sub        queue.Substrate
	docsSvc    *documents.Service
	cfg        *config.Config
	log        *slog.Logger
	reconciler *time.Ticker
	stopRecon  chan struct{}
}

func NewRuntime(
	extractProc *ExtractProcessor,
	chunkProc *ChunkProcessor,
	embedProc *EmbedProcessor,
	scheduler *queue.Scheduler,
	sub queue.Substrate,
	jobsRepo *jobs.Repository,
	docsRepo *documents.Repository,
	docsSvc *documents.Service,
	cfg *config.Config,
	log *slog.Logger,
) *Runtime {
	p := cfg.Pipeline
	return &Runtime{
		pools: []*Pool{
			NewPool(extractProc, p.ExtractWorkers, scheduler, sub, jobsRepo, docsRepo, cfg, log),
			NewPool(chunkProc, p.ChunkWorkers, scheduler, sub, jobsRepo, docsRepo, cfg, log),
			NewPool(embedProc, p.EmbedWorkers, scheduler, sub, jobsRepo, docsRepo, cfg, log),
		},
		jobsRepo: jobsRepo,
		sub:      sub,
		docsSvc:  docsSvc,
		cfg:      cfg,
		log:      log.With(logger.Scope("pipeline")),
	}
}

// Start recovers stale jobs, launches the pools, and begins the reconciler
// sweep.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.recoverStale(ctx); err != nil {
		return err
	}
	for _, pool := range r.pools {
		pool.Start()
	}
	r.startReconciler()
	return nil
}

// Stop halts the reconciler and drains the pools.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.reconciler != nil {
		r.reconciler.Stop()
		close(r.stopRecon)
	}
	for _, pool := range r.pools {
		if err := pool.Stop(ctx); err != nil {
			return err
		}
	}
	r.log.Info("pipeline stopped")
	return nil
}

// staleThreshold is how long a job may sit in processing before it is
// presumed orphaned: twice the longest stage budget.
func (r *Runtime) staleThreshold() time.Duration {
	p := r.cfg.Pipeline
	max := p.ExtractTimeout
	if p.ChunkTimeout > max {
		max = p.ChunkTimeout
	}
	if p.EmbedTimeout > max {
		max = p.EmbedTimeout
	}
	return 2 * max
}

// recoverStale returns crashed workers' jobs to pending and re-enqueues them
// at the current epoch.
func (r *Runtime) recoverStale(ctx context.Context) error {
	recovered, err := r.jobsRepo.RecoverStale(ctx, r.staleThreshold())
	if err != nil {
		return err
	}
	score := queue.Score(time.Now())
	for _, job := range recovered {
		if err := r.sub.Enqueue(ctx, job.TenantID.String(), job.Stage, job.ID.String(), score); err != nil {
			r.log.Error("failed to re-enqueue recovered job",
				slog.String("job_id", job.ID.String()),
				logger.Error(err),
			)
		}
	}
	return nil
}

// startReconciler sweeps failed_deletion documents on the configured
// interval, re-running their cascades until they succeed.
func (r *Runtime) startReconciler() {
	r.reconciler = time.NewTicker(r.cfg.Pipeline.ReconcileInterval)
	r.stopRecon = make(chan struct{})

	go func() {
		for {
			select {
			case <-r.stopRecon:
				return
			case <-r.reconciler.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Pipeline.ReconcileInterval)
				retried, err := r.docsSvc.RetryFailedDeletions(ctx, 100)
				cancel()
				if err != nil {
					r.log.Error("deletion reconciler sweep failed", logger.Error(err))
					continue
				}
				if retried > 0 {
					r.log.Info("deletion reconciler recovered documents",
						slog.Int("count", retried),
					)
				}
			}
		}
	}()
}
