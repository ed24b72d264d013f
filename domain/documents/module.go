package documents

import (
	"go.uber.org/fx"
)

// Module provides document ingestion dependencies via fx.
var Module = fx.Module("documents",
	fx.Provide(
		NewRepository,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
