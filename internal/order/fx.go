package order

import (
	"github.com/smallbiznis/salestax/internal/order/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("order.repository",
	fx.Provide(repository.NewRepository),
)
