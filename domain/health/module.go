// Package health provides liveness, readiness, and dependency probes.
package health

import "go.uber.org/fx"

// Module provides health check dependencies via fx.
var Module = fx.Module("health",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
