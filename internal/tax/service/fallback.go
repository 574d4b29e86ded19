package service

import (
	"context"
	"errors"

	"github.com/smallbiznis/salestax/internal/alert"
	alertdomain "github.com/smallbiznis/salestax/internal/alert/domain"
	"github.com/smallbiznis/salestax/internal/avatax"
	"github.com/smallbiznis/salestax/internal/clock"
	"github.com/smallbiznis/salestax/internal/config"
	"github.com/smallbiznis/salestax/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type FallbackParams struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Settings   *config.AvataxConfigHolder
	Notifier   alertdomain.Notifier `optional:"true"`
	TaxMetrics *metrics.TaxMetrics  `optional:"true"`
}

// FallbackPolicy decides what happens when the provider cannot answer a
// compute call: the order is taxed at zero and, unless suppressed, an alert
// is raised.
type FallbackPolicy struct {
	log        *zap.Logger
	clock      clock.Clock
	settings   *config.AvataxConfigHolder
	notifier   alertdomain.Notifier
	taxMetrics *metrics.TaxMetrics
}

func NewFallbackPolicy(p FallbackParams) *FallbackPolicy {
	notifier := p.Notifier
	if notifier == nil {
		notifier = alert.NoopNotifier{}
	}
	return &FallbackPolicy{
		log:        p.Log.Named("tax.fallback"),
		clock:      p.Clock,
		settings:   p.Settings,
		notifier:   notifier,
		taxMetrics: p.TaxMetrics,
	}
}

// Handle reports whether err is a provider failure that may be degraded to
// zero tax. Notifier failures are logged and never returned.
func (f *FallbackPolicy) Handle(ctx context.Context, err error, order *orderdomain.Order) bool {
	var perr *avatax.Error
	if !errors.As(err, &perr) {
		return false
	}

	fields := []zap.Field{
		zap.String("kind", string(perr.Kind)),
		zap.String("op", perr.Op),
		zap.Error(err),
	}
	if order != nil {
		fields = append(fields, zap.String("order_id", order.ID.String()), zap.String("order_number", order.Number))
	}
	f.log.Error("avatax call failed", fields...)

	if perr.Kind == avatax.KindAPI && f.suppressAPIErrors() {
		f.taxMetrics.IncFallback(string(perr.Kind), false)
		return true
	}

	if notifyErr := f.notifier.Notify(ctx, f.buildAlert(perr, order)); notifyErr != nil {
		f.log.Warn("failed to send avatax alert", zap.Error(notifyErr))
	}
	f.taxMetrics.IncFallback(string(perr.Kind), true)
	return true
}

func (f *FallbackPolicy) suppressAPIErrors() bool {
	if f.settings == nil {
		return false
	}
	return f.settings.Get().SuppressAPIErrors
}

func (f *FallbackPolicy) buildAlert(perr *avatax.Error, order *orderdomain.Order) alertdomain.Alert {
	params := map[string]any{
		"op": perr.Op,
	}
	if perr.StatusCode > 0 {
		params["status_code"] = perr.StatusCode
	}
	if order != nil {
		params["order_id"] = order.ID.String()
		params["order_number"] = order.Number
	}
	return alertdomain.Alert{
		Class:      "Avalara Error: " + string(perr.Kind),
		Message:    "Avalara Error: " + perr.Message,
		Parameters: params,
		OccurredAt: f.clock.Now(),
	}
}
