package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/internal/jobs"
	"github.com/pagemill/pagemill/internal/queue"
	"github.com/pagemill/pagemill/pkg/embeddings"
	"github.com/pagemill/pagemill/pkg/extract"
	"github.com/pagemill/pagemill/pkg/logger"
)

// Processor is one pipeline stage's work function. Process must be safe to
// re-run: a crashed worker's job is recovered and handed to another.
type Processor interface {
	Stage() queue.Stage
	Timeout() time.Duration
	Process(ctx context.Context, job *jobs.Job) error
}

// jobStore is the slice of the jobs repository the pool needs to claim and
// settle work.
type jobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error
	MarkDead(ctx context.Context, id uuid.UUID, errMsg string) error
}

// documentFailer flips a document to its failed state when a job is
// dead-lettered.
type documentFailer interface {
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// Pool runs N workers against one stage's queues. Each worker asks the fair
// scheduler for a lease, claims the job row, runs the processor under the
// stage's wall-clock budget, and settles the outcome: completed, retried
// with backoff, or dead-lettered.
type Pool struct {
	processor Processor
	workers   int
	scheduler *queue.Scheduler
	sub       queue.Substrate
	jobsRepo  jobStore
	docs      documentFailer
	cfg       *config.Config
	log       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPool(
	processor Processor,
	workers int,
	scheduler *queue.Scheduler,
	sub queue.Substrate,
	jobsRepo jobStore,
	docs documentFailer,
	cfg *config.Config,
	log *slog.Logger,
) *Pool {
	return &Pool{
		processor: processor,
		workers:   workers,
		scheduler: scheduler,
		sub:       sub,
		jobsRepo:  jobsRepo,
		docs:      docs,
		cfg:       cfg,
		log: log.With(
			logger.Scope("pipeline.pool"),
			slog.String("stage", string(processor.Stage())),
		),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.run(ctx)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(p.done)
	}()

	p.log.Info("worker pool started", slog.Int("workers", p.workers))
}

// Stop signals the workers and waits for in-flight jobs to settle.
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool %s did not stop in time", p.processor.Stage())
	}
}

// run is one worker's loop: poll, process, back off when idle.
func (p *Pool) run(ctx context.Context) {
	backoff := p.cfg.Pipeline.IdleBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		worked, err := p.serveOne(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.Error("worker iteration failed", logger.Error(err))
		}
		if worked {
			backoff = p.cfg.Pipeline.IdleBackoffMin
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.cfg.Pipeline.IdleBackoffMax {
			backoff = p.cfg.Pipeline.IdleBackoffMax
		}
	}
}

// serveOne leases and processes at most one job. Returns true when a job was
// leased, whatever its outcome.
func (p *Pool) serveOne(ctx context.Context) (bool, error) {
	lease, ok, err := p.scheduler.Next(ctx, p.processor.Stage())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer p.scheduler.Release(ctx, lease)

	jobID, err := uuid.Parse(lease.JobID)
	if err != nil {
		return true, fmt.Errorf("bad job id %q in queue: %w", lease.JobID, err)
	}

	job, err := p.jobsRepo.GetByID(ctx, jobID)
	if err != nil {
		// The row is gone (document deleted mid-queue); drop the orphan.
		p.log.Warn("popped job has no row, dropping",
			slog.String("job_id", lease.JobID),
		)
		return true, nil
	}

	claimed, err := p.jobsRepo.MarkProcessing(ctx, job.ID)
	if err != nil {
		return true, err
	}
	if !claimed {
		// Lost the fence to another worker or the job is terminal.
		return true, nil
	}

	procCtx, cancel := context.WithTimeout(ctx, p.processor.Timeout())
	procErr := p.processor.Process(procCtx, job)
	cancel()

	if procErr == nil {
		if err := p.jobsRepo.MarkCompleted(ctx, job.ID); err != nil {
			return true, err
		}
		return true, nil
	}

	return true, p.settleFailure(ctx, job, procErr)
}

// settleFailure classifies a processing error. Permanent errors and exhausted
// retries dead-letter the job and fail the document; transient errors
// re-enqueue with exponential backoff encoded as a future queue score.
func (p *Pool) settleFailure(ctx context.Context, job *jobs.Job, procErr error) error {
	permanent := extract.IsPermanent(procErr) || embeddings.IsPermanent(procErr)
	nextRetry := job.RetryCount + 1

	if permanent || nextRetry > job.MaxRetries {
		if err := p.jobsRepo.MarkDead(ctx, job.ID, procErr.Error()); err != nil {
			return err
		}
		if err := p.docs.MarkFailed(ctx, job.DocumentID); err != nil {
			return err
		}
		p.log.Error("job dead-lettered",
			slog.String("job_id", job.ID.String()),
			slog.String("document_id", job.DocumentID.String()),
			slog.Int("retry_count", job.RetryCount),
			slog.Bool("permanent", permanent),
			logger.Error(procErr),
		)
		return nil
	}

	if err := p.jobsRepo.MarkRetry(ctx, job.ID, nextRetry, procErr.Error()); err != nil {
		return err
	}
	delay := retryDelay(nextRetry)
	score := queue.Score(time.Now().Add(delay))
	if err := p.sub.Enqueue(ctx, job.TenantID.String(), job.Stage, job.ID.String(), score); err != nil {
		return fmt.Errorf("re-enqueue job %s: %w", job.ID, err)
	}

	p.log.Warn("job retry scheduled",
		slog.String("job_id", job.ID.String()),
		slog.Int("retry", nextRetry),
		slog.Duration("delay", delay),
		logger.Error(procErr),
	)
	return nil
}

// retryDelay is the exponential backoff before retry n: 2^n seconds.
func retryDelay(retry int) time.Duration {
	return time.Duration(1<<uint(retry)) * time.Second
}
