// Package pipeline runs the asynchronous three-stage document pipeline:
// extract, chunk, embed. Workers pull from the per-(tenant, stage) queues via
// the fair scheduler; progress and retries live in the jobs table.
package pipeline

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the pipeline processors and starts the worker runtime with
// the application lifecycle.
var Module = fx.Module("pipeline",
	fx.Provide(
		NewExtractProcessor,
		NewChunkProcessor,
		NewEmbedProcessor,
		NewRuntime,
	),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, runtime *Runtime) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return runtime.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return runtime.Stop(ctx)
		},
	})
}
