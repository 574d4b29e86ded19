package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/salestax/internal/avatax"
	"github.com/smallbiznis/salestax/internal/cache"
	"github.com/smallbiznis/salestax/internal/clock"
	"github.com/smallbiznis/salestax/internal/config"
	"github.com/smallbiznis/salestax/internal/observability/metrics"
	"github.com/smallbiznis/salestax/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	"github.com/smallbiznis/salestax/internal/tax/builder"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type ComputerParams struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Settings   *config.AvataxConfigHolder
	Orders     orderdomain.Repository
	Provider   taxdomain.Provider
	Builder    *builder.Builder
	Fallback   *FallbackPolicy
	TaxMetrics *metrics.TaxMetrics `optional:"true"`
	Metrics    *metrics.Metrics    `optional:"true"`
}

type Computer struct {
	log      *zap.Logger
	clock    clock.Clock
	orders   orderdomain.Repository
	provider taxdomain.Provider
	builder  *builder.Builder
	fallback *FallbackPolicy
	tracer   trace.Tracer

	taxMetrics *metrics.TaxMetrics
	metrics    *metrics.Metrics

	cache    cache.OrderCache
	inflight singleflight.Group
}

func NewComputer(p ComputerParams) *Computer {
	ttl := config.DefaultLineItemCacheTTL
	if p.Settings != nil {
		if configured := p.Settings.Get().LineItemCacheTTL; configured > 0 {
			ttl = configured
		}
	}
	return &Computer{
		log:        p.Log.Named("tax.computer"),
		clock:      p.Clock,
		orders:     p.Orders,
		provider:   p.Provider,
		builder:    p.Builder,
		fallback:   p.Fallback,
		tracer:     otel.Tracer("salestax/tax"),
		taxMetrics: p.TaxMetrics,
		metrics:    p.Metrics,
		cache:      cache.NewOrderCache(ttl, p.Clock),
	}
}

var _ taxdomain.Computer = (*Computer)(nil)

// ComputeOrder computes tax for the items cc selects and stores it on the
// order. Provider failures are reported through the fallback policy and
// return zero.
func (c *Computer) ComputeOrder(ctx context.Context, order *orderdomain.Order, cc taxdomain.ComputationContext) (decimal.Decimal, error) {
	if err := taxdomain.ValidateContext(cc); err != nil {
		return decimal.Zero, err
	}
	docType := string(cc.DocType())
	if order == nil {
		return decimal.Zero, taxdomain.ErrOrderNotFound
	}
	if order.ShipAddress == nil || len(order.LineItems) == 0 {
		c.taxMetrics.IncComputation(docType, metrics.ComputeSkipped)
		return decimal.Zero, nil
	}
	if len(cc.SelectLineItems(order)) == 0 {
		c.taxMetrics.IncComputation(docType, metrics.ComputeSkipped)
		return decimal.Zero, nil
	}

	log := c.log.With(
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.Number),
		zap.String("doc_type", docType),
	)

	if err := c.orders.UpdateTotals(ctx, order); err != nil {
		c.taxMetrics.IncComputation(docType, metrics.ComputeError)
		return decimal.Zero, fmt.Errorf("update order totals: %w", err)
	}

	req, err := c.builder.Build(order, cc)
	if err != nil {
		c.taxMetrics.IncComputation(docType, metrics.ComputeError)
		return decimal.Zero, err
	}
	if req.Empty() {
		c.taxMetrics.IncComputation(docType, metrics.ComputeSkipped)
		return decimal.Zero, nil
	}
	log.Debug("avatax request", zap.Any("request", req.Tax))

	result, err := c.quote(ctx, req.Tax)
	if err != nil {
		if c.fallback.Handle(ctx, err, order) {
			if clearErr := c.orders.ClearStatus(ctx, order.ID, cc.StatusField()); clearErr != nil {
				log.Warn("failed to clear tax status", zap.Error(clearErr))
			} else {
				order.SetStatusAt(cc.StatusField(), nil)
			}
			c.taxMetrics.IncComputation(docType, metrics.ComputeFallback)
			return decimal.Zero, nil
		}
		c.taxMetrics.IncComputation(docType, metrics.ComputeError)
		return decimal.Zero, err
	}
	log.Debug("avatax response", zap.Any("response", result))

	if err := req.Matcher.BackfillAll(result.TaxLines); err != nil {
		c.taxMetrics.IncComputation(docType, metrics.ComputeError)
		return decimal.Zero, fmt.Errorf("%w: %w", taxdomain.ErrInvalidAPIResponse, err)
	}
	total, items, err := applyTaxes(order, req, result)
	if err != nil {
		c.taxMetrics.IncComputation(docType, metrics.ComputeError)
		return decimal.Zero, err
	}
	if err := c.orders.ApplyTaxes(ctx, order, items, cc.StatusField(), c.clock.Now()); err != nil {
		c.taxMetrics.IncComputation(docType, metrics.ComputeError)
		return decimal.Zero, fmt.Errorf("apply taxes: %w", err)
	}

	c.taxMetrics.IncComputation(docType, metrics.ComputeTaxed)
	c.metrics.RecordTaxAmount(ctx, docType, total.InexactFloat64())
	log.Info("tax computed",
		zap.String("total_tax", total.String()),
		zap.Int("lines", len(items)),
	)
	return total, nil
}

// ComputeLineItem returns the tax for one line item. Recently computed orders
// are cached by fingerprint and concurrent callers share one provider call.
func (c *Computer) ComputeLineItem(ctx context.Context, item *orderdomain.LineItem, cc taxdomain.ComputationContext) (decimal.Decimal, error) {
	if err := taxdomain.ValidateContext(cc); err != nil {
		return decimal.Zero, err
	}
	if item == nil {
		return decimal.Zero, taxdomain.ErrLineItemNotFound
	}

	order, err := c.orders.FindByID(ctx, item.OrderID)
	if err != nil {
		return decimal.Zero, err
	}
	if order == nil {
		return decimal.Zero, taxdomain.ErrOrderNotFound
	}

	key := fingerprint(order, cc)
	cached, ok := c.cache.Get(key)
	if ok {
		c.taxMetrics.IncCacheLookup(metrics.CacheHit)
	} else {
		v, err, shared := c.inflight.Do(key, func() (any, error) {
			// a flight that finished between the lookup above and Do already
			// cached this fingerprint
			if computed, ok := c.cache.Get(key); ok {
				return computed, nil
			}
			// callers sharing this flight must not inherit the first caller's
			// cancellation; the provider timeout still bounds the call
			if _, err := c.ComputeOrder(context.WithoutCancel(ctx), order, cc); err != nil {
				return nil, err
			}
			c.cache.Set(key, order)
			return order, nil
		})
		if err != nil {
			return decimal.Zero, err
		}
		if shared {
			c.taxMetrics.IncCacheLookup(metrics.CacheShared)
		} else {
			c.taxMetrics.IncCacheLookup(metrics.CacheMiss)
		}
		cached = v.(*orderdomain.Order)
	}

	computed := cached.LineItemByID(item.ID)
	if computed == nil {
		return decimal.Zero, taxdomain.ErrLineItemNotFound
	}
	item.AdditionalTaxTotal = computed.AdditionalTaxTotal
	return computed.AdditionalTaxTotal, nil
}

func (c *Computer) quote(ctx context.Context, req *avatax.GetTaxRequest) (*avatax.GetTaxResult, error) {
	ctx, span := c.tracer.Start(ctx, "avatax.quote_tax",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.SafeAttributes(
			attribute.String("avatax.doc_type", req.DocType),
			attribute.String("avatax.doc_code", req.DocCode),
			attribute.Int("avatax.lines", len(req.Lines)),
		)...),
	)
	defer span.End()

	start := time.Now()
	result, err := c.provider.QuoteTax(ctx, req)
	c.taxMetrics.ObserveProviderCall("quote", time.Since(start), err)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, metrics.ClassifyOutcome(err))
		return nil, err
	}
	if result == nil {
		err := fmt.Errorf("%w: empty response", taxdomain.ErrInvalidAPIResponse)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("avatax.result_code", result.ResultCode))
	return result, nil
}
