// Package queue provides the per-(tenant, stage) priority queue substrate and
// the fair scheduler that decides which tenant a worker serves next.
//
// Each (tenant, stage) pair owns an ordered set of job ids keyed by a numeric
// score: lower score = earlier service, ties broken by insertion order. The
// score doubles as a visibility time — items scored in the future (retry
// backoff) are invisible to PopMin until their score is due.
package queue

import (
	"context"
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("queue",
	fx.Provide(
		NewRedisSubstrate,
		fx.Annotate(
			func(s *RedisSubstrate) Substrate { return s },
			fx.As(new(Substrate)),
		),
		NewScheduler,
	),
)

// Stage identifies one of the three pipeline stages.
type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
)

// Stages lists all pipeline stages in processing order.
var Stages = []Stage{StageExtract, StageChunk, StageEmbed}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageExtract, StageChunk, StageEmbed:
		return true
	}
	return false
}

// Score converts a wall-clock time into a queue score. The default priority
// of a job is its enqueue epoch, so earlier submissions within a tenant are
// served first; retries re-enqueue with a future score to encode backoff.
func Score(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000.0
}

// Substrate is the queue storage shared by all worker processes. The
// round-robin rotation pointer lives here too, so horizontally scaled
// workers share one rotation per stage.
type Substrate interface {
	// Enqueue adds a job to the (tenant, stage) queue. Idempotent on jobID:
	// re-enqueueing an existing member only updates its score.
	Enqueue(ctx context.Context, tenantID string, stage Stage, jobID string, score float64) error

	// PopMin atomically removes and returns the lowest-scoring job whose
	// score is <= now. Returns ok=false when no due job exists.
	PopMin(ctx context.Context, tenantID string, stage Stage, now time.Time) (jobID string, ok bool, err error)

	// Remove deletes a specific job from the queue if still present.
	Remove(ctx context.Context, tenantID string, stage Stage, jobID string) error

	// DeleteQueue drops the (tenant, stage) queue entirely, deferred members
	// included, and retires the tenant from the stage's registry.
	DeleteQueue(ctx context.Context, tenantID string, stage Stage) error

	// Len returns the number of queued jobs, including not-yet-due ones.
	Len(ctx context.Context, tenantID string, stage Stage) (int64, error)

	// ActiveTenants returns the tenants with at least one queued job at the
	// stage.
	ActiveTenants(ctx context.Context, stage Stage) ([]string, error)

	// LastServed returns the rotation pointer for the stage ("" when unset).
	LastServed(ctx context.Context, stage Stage) (string, error)

	// SetLastServed advances the rotation pointer for the stage.
	SetLastServed(ctx context.Context, stage Stage, tenantID string) error

	// IncrInFlight / DecrInFlight maintain the per-tenant in-flight counter
	// used by the optional concurrency cap.
	IncrInFlight(ctx context.Context, tenantID string, stage Stage) (int64, error)
	DecrInFlight(ctx context.Context, tenantID string, stage Stage) error
	InFlight(ctx context.Context, tenantID string, stage Stage) (int64, error)
}
