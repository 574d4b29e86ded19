package salesinvoice

import (
	"github.com/smallbiznis/salestax/internal/salesinvoice/repository"
	"github.com/smallbiznis/salestax/internal/salesinvoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("salesinvoice.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
