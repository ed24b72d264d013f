// Package ratelimit provides the per-tenant sliding-window admission limiter
// applied to upload and search requests.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("ratelimit",
	fx.Provide(
		NewRedisLimiter,
		fx.Annotate(
			func(l *RedisLimiter) Limiter { return l },
			fx.As(new(Limiter)),
		),
	),
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the oldest counted request leaves the
	// window; zero when allowed.
	RetryAfter time.Duration
}

// Limiter admits or rejects a request against the tenant's per-window limit.
// A limit of 0 or below means unlimited.
type Limiter interface {
	Allow(ctx context.Context, tenantID string, limit int) (Decision, error)
	// Usage returns how many requests the tenant has consumed in the
	// current window.
	Usage(ctx context.Context, tenantID string) (int, error)
}
