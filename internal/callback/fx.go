package callback

import (
	"go.uber.org/fx"
)

var Module = fx.Module("callback",
	fx.Provide(NewRouter),
)
