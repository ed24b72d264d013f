package queue

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/pkg/logger"
)

// Lease is a claim on one popped job. The holder must call Release when the
// job finishes so the per-tenant in-flight counter stays accurate.
type Lease struct {
	TenantID string
	JobID    string
	Stage    Stage
}

// Scheduler selects the next job across tenants with round-robin fairness.
// Tenants are visited in sorted order starting after the last-served tenant;
// a tenant with no due work (or one at its concurrency cap) is skipped
// without burning its turn, so a backlogged tenant can never starve others
// and an idle tenant never blocks the rotation.
type Scheduler struct {
	sub       Substrate
	tenantCap int64
	log       *slog.Logger
}

func NewScheduler(sub Substrate, cfg *config.Config, log *slog.Logger) *Scheduler {
	return &Scheduler{
		sub:       sub,
		tenantCap: int64(cfg.Pipeline.TenantConcurrencyCap),
		log:       log.With(logger.Scope("scheduler")),
	}
}

// Next attempts to pop one due job for the stage. Returns ok=false when no
// tenant has due work. On success the lease's tenant in-flight counter has
// been incremented and the rotation pointer advanced.
func (s *Scheduler) Next(ctx context.Context, stage Stage) (Lease, bool, error) {
	tenants, err := s.sub.ActiveTenants(ctx, stage)
	if err != nil {
		return Lease{}, false, err
	}
	if len(tenants) == 0 {
		return Lease{}, false, nil
	}
	sort.Strings(tenants)

	last, err := s.sub.LastServed(ctx, stage)
	if err != nil {
		return Lease{}, false, err
	}

	// Resume after the last-served tenant. When it no longer has work its
	// slot in the sorted order still anchors where the rotation continues.
	start := sort.SearchStrings(tenants, last)
	if start < len(tenants) && tenants[start] == last {
		start++
	}

	now := time.Now()
	for i := 0; i < len(tenants); i++ {
		tenantID := tenants[(start+i)%len(tenants)]

		if s.tenantCap > 0 {
			inFlight, err := s.sub.InFlight(ctx, tenantID, stage)
			if err != nil {
				return Lease{}, false, err
			}
			if inFlight >= s.tenantCap {
				continue
			}
		}

		jobID, ok, err := s.sub.PopMin(ctx, tenantID, stage, now)
		if err != nil {
			return Lease{}, false, err
		}
		if !ok {
			continue
		}

		if err := s.sub.SetLastServed(ctx, stage, tenantID); err != nil {
			s.log.Warn("failed to advance rotation pointer",
				slog.String("stage", string(stage)),
				logger.Error(err),
			)
		}
		if _, err := s.sub.IncrInFlight(ctx, tenantID, stage); err != nil {
			s.log.Warn("failed to track in-flight job",
				slog.String("tenant_id", tenantID),
				logger.Error(err),
			)
		}

		return Lease{TenantID: tenantID, JobID: jobID, Stage: stage}, true, nil
	}

	return Lease{}, false, nil
}

// Release returns the lease's concurrency slot.
func (s *Scheduler) Release(ctx context.Context, lease Lease) {
	if err := s.sub.DecrInFlight(ctx, lease.TenantID, lease.Stage); err != nil {
		s.log.Warn("failed to release in-flight slot",
			slog.String("tenant_id", lease.TenantID),
			slog.String("stage", string(lease.Stage)),
			logger.Error(err),
		)
	}
}
