package limit

import "go.uber.org/fx"

var Module = fx.Module("limit",
	fx.Provide(NewRedisUsageStore),
	fx.Provide(NewGuard),
)
