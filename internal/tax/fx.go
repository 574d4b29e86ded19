package tax

import (
	"github.com/smallbiznis/salestax/internal/avatax"
	"github.com/smallbiznis/salestax/internal/tax/builder"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
	"github.com/smallbiznis/salestax/internal/tax/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tax.service",
	fx.Provide(func(c *avatax.Client) taxdomain.Provider { return c }),
	fx.Provide(builder.New),
	fx.Provide(service.NewFallbackPolicy),
	fx.Provide(service.NewComputer),
	fx.Provide(func(c *service.Computer) taxdomain.Computer { return c }),
)
