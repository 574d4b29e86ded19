package providers

import (
	"github.com/smallbiznis/salestax/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	slack.Module,
)
