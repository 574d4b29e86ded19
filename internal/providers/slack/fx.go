package slack

import (
	"github.com/smallbiznis/salestax/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.slack",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.Alert.SlackWebhookURL == "" {
		return &NoOpProvider{}
	}
	return NewWebhookProvider(cfg.Alert.SlackWebhookURL, nil)
}
