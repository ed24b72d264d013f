package tenants

import (
	"go.uber.org/fx"

	"github.com/pagemill/pagemill/pkg/auth"
)

// Module provides tenant dependencies via fx, including the TenantResolver
// binding consumed by the auth middleware.
var Module = fx.Module("tenants",
	fx.Provide(
		NewRepository,
		fx.Annotate(
			func(r *Repository) auth.TenantResolver { return r },
			fx.As(new(auth.TenantResolver)),
		),
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
