// Package search serves semantic retrieval over embedded chunks.
package search

import (
	"go.uber.org/fx"
)

// Module provides search dependencies via fx.
var Module = fx.Module("search",
	fx.Provide(
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
