package avatax

import "go.uber.org/fx"

var Module = fx.Module("avatax.client",
	fx.Provide(NewClient),
)
