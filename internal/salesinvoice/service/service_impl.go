package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/salestax/internal/avatax"
	"github.com/smallbiznis/salestax/internal/clock"
	"github.com/smallbiznis/salestax/internal/config"
	"github.com/smallbiznis/salestax/internal/observability/metrics"
	"github.com/smallbiznis/salestax/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	salesinvoicedomain "github.com/smallbiznis/salestax/internal/salesinvoice/domain"
	"github.com/smallbiznis/salestax/internal/tax/builder"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opGenerate = "generate"
	opCommit   = "commit"
	opCancel   = "cancel"

	taxAdjustmentLabel = "Sales Tax"
)

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Settings   *config.AvataxConfigHolder
	Repo       salesinvoicedomain.Repository
	Orders     orderdomain.Repository
	Provider   taxdomain.Provider
	Builder    *builder.Builder
	ErrHandler salesinvoicedomain.ErrorHandler      `optional:"true"`
	Taxability salesinvoicedomain.TaxabilityChecker `optional:"true"`
	TaxMetrics *metrics.TaxMetrics                  `optional:"true"`
	Metrics    *metrics.Metrics                     `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	settings *config.AvataxConfigHolder
	tracer   trace.Tracer

	repo     salesinvoicedomain.Repository
	orders   orderdomain.Repository
	provider taxdomain.Provider
	builder  *builder.Builder

	errHandler salesinvoicedomain.ErrorHandler
	taxability salesinvoicedomain.TaxabilityChecker
	taxMetrics *metrics.TaxMetrics
	metrics    *metrics.Metrics
}

func NewService(p ServiceParam) salesinvoicedomain.Service {
	taxability := p.Taxability
	if taxability == nil {
		taxability = salesinvoicedomain.TaxabilityFunc((*orderdomain.Order).Taxable)
	}
	return &Service{
		log:        p.Log.Named("salesinvoice.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		settings:   p.Settings,
		tracer:     otel.Tracer("salestax/salesinvoice"),
		repo:       p.Repo,
		orders:     p.Orders,
		provider:   p.Provider,
		builder:    p.Builder,
		errHandler: p.ErrHandler,
		taxability: taxability,
		taxMetrics: p.TaxMetrics,
		metrics:    p.Metrics,
	}
}

func (s *Service) Get(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	invoice, err := s.repo.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, salesinvoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

// Generate quotes an uncommitted SalesInvoice for every line item and stores
// it as the order's draft, replacing any earlier draft.
func (s *Service) Generate(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	ctx, span := s.startSpan(ctx, opGenerate, orderID)
	defer span.End()

	invoice, err := s.generate(ctx, orderID)
	return invoice, s.finish(ctx, span, opGenerate, invoice, err)
}

func (s *Service) generate(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Taxable() {
		return nil, nil
	}

	existing, err := s.repo.FindByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.CommittedAt != nil {
			return nil, salesinvoicedomain.ErrAlreadyCommitted
		}
		if err := s.repo.Delete(ctx, existing.ID); err != nil {
			return nil, err
		}
	}

	settings := s.settings.Get()
	rate, err := s.orders.FindTaxRateByName(ctx, settings.TaxRateName)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, fmt.Errorf("%w: %q", salesinvoicedomain.ErrTaxRateNotFound, settings.TaxRateName)
	}

	if err := s.orders.UpdateTotals(ctx, order); err != nil {
		return nil, fmt.Errorf("update order totals: %w", err)
	}
	req, err := s.builder.BuildInvoice(order)
	if err != nil {
		return nil, err
	}
	if req.Empty() {
		return nil, nil
	}

	s.log.Debug("avatax sales invoice request", zap.Any("request", req.Tax))
	start := time.Now()
	result, err := s.provider.QuoteTax(ctx, req.Tax)
	s.taxMetrics.ObserveProviderCall("quote", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty response", taxdomain.ErrInvalidAPIResponse)
	}
	s.log.Debug("avatax sales invoice response", zap.Any("response", result))

	if err := req.Matcher.BackfillAll(result.TaxLines); err != nil {
		return nil, fmt.Errorf("%w: %w", taxdomain.ErrInvalidAPIResponse, err)
	}
	if unfilled := req.Matcher.Unfilled(); len(unfilled) > 0 {
		return nil, fmt.Errorf("%w: no tax returned for line %d", taxdomain.ErrInvalidAPIResponse, unfilled[0].LineNumber)
	}

	tuples := req.Matcher.Tuples()
	taxes := make([]decimal.Decimal, len(tuples))
	for i, t := range tuples {
		amount, err := t.ResponseLine.Tax.Decimal()
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", taxdomain.ErrInvalidAPIResponse, t.LineNumber, err)
		}
		taxes[i] = amount.Abs()
	}
	totalTax, err := result.TotalTax.Decimal()
	if err != nil {
		return nil, fmt.Errorf("%w: total tax: %w", taxdomain.ErrInvalidAPIResponse, err)
	}
	preTax, err := preTaxTotal(result, req)
	if err != nil {
		return nil, err
	}

	invoice := &salesinvoicedomain.SalesInvoice{
		ID:                 s.genID.Generate(),
		OrderID:            order.ID,
		DocType:            req.Tax.DocType,
		TransactionID:      result.TransactionID,
		DocID:              result.DocID,
		DocCode:            firstNonEmpty(result.DocCode, req.Tax.DocCode),
		DocDate:            firstNonEmpty(result.DocDate, req.Tax.DocDate),
		PreTaxTotal:        preTax,
		AdditionalTaxTotal: totalTax,
		Metadata: datatypes.JSONMap{
			"result_code": result.ResultCode,
			"doc_status":  result.DocStatus,
		},
	}

	items := make([]*orderdomain.LineItem, 0, len(tuples))
	adjustments := make([]orderdomain.Adjustment, 0, len(tuples))
	for i, t := range tuples {
		t.LineItem.AdditionalTaxTotal = taxes[i]
		items = append(items, t.LineItem)
		adjustments = append(adjustments, orderdomain.Adjustment{
			ID:             s.genID.Generate(),
			OrderID:        order.ID,
			AdjustableType: orderdomain.AdjustableLineItem,
			AdjustableID:   t.LineItem.ID,
			SourceType:     orderdomain.SourceTaxRate,
			SourceID:       rate.ID,
			Label:          taxAdjustmentLabel,
			Amount:         taxes[i],
			State:          orderdomain.AdjustmentStateClosed,
			Eligible:       true,
		})
	}
	order.AdditionalTaxTotal = totalTax

	now := s.clock.Now()
	err = s.repo.Replace(ctx, invoice, func(tx *gorm.DB) error {
		orders := s.orders.WithTx(tx)
		if err := orders.ApplyTaxes(ctx, order, items, orderdomain.StatusFieldInvoiceAt, now); err != nil {
			return err
		}
		return orders.ReplaceTaxAdjustments(ctx, order.ID, adjustments)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("sales invoice generated",
		zap.String("order_id", order.ID.String()),
		zap.String("doc_code", invoice.DocCode),
		zap.String("total_tax", totalTax.String()),
	)
	return invoice, nil
}

// Commit posts the draft so the provider records it as final.
func (s *Service) Commit(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	ctx, span := s.startSpan(ctx, opCommit, orderID)
	defer span.End()

	invoice, err := s.commit(ctx, orderID)
	return invoice, s.finish(ctx, span, opCommit, invoice, err)
}

func (s *Service) commit(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	invoice, err := s.repo.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if invoice == nil || invoice.State() != salesinvoicedomain.StateDraft {
		return nil, salesinvoicedomain.ErrCommitInvoiceNotFound
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !s.taxability.Taxable(order) {
		return nil, nil
	}

	start := time.Now()
	result, err := s.provider.CommitTax(ctx, &avatax.PostTaxRequest{
		DocCode:     invoice.DocCode,
		CompanyCode: s.settings.Get().CompanyCode,
		DocType:     invoice.DocType,
		DocDate:     invoice.DocDate,
		Commit:      true,
		TotalAmount: invoice.PreTaxTotal,
		TotalTax:    invoice.AdditionalTaxTotal,
	})
	s.taxMetrics.ObserveProviderCall("commit", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	committedAt := s.clock.Now()
	invoice.CommittedAt = &committedAt
	if result != nil {
		if invoice.Metadata == nil {
			invoice.Metadata = datatypes.JSONMap{}
		}
		invoice.Metadata["commit_transaction_id"] = result.TransactionID
		invoice.Metadata["commit_result_code"] = result.ResultCode
	}
	if err := s.repo.Save(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// Cancel voids the order's document at the provider.
func (s *Service) Cancel(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	ctx, span := s.startSpan(ctx, opCancel, orderID)
	defer span.End()

	invoice, err := s.cancel(ctx, orderID)
	return invoice, s.finish(ctx, span, opCancel, invoice, err)
}

func (s *Service) cancel(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	invoice, err := s.repo.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, salesinvoicedomain.ErrInvoiceNotFound
	}
	if invoice.CanceledAt != nil {
		return invoice, nil
	}

	start := time.Now()
	result, err := s.provider.CancelTax(ctx, &avatax.CancelTaxRequest{
		DocCode:     invoice.DocCode,
		DocType:     invoice.DocType,
		CancelCode:  avatax.CancelCodeDocVoided,
		CompanyCode: s.settings.Get().CompanyCode,
	})
	s.taxMetrics.ObserveProviderCall("cancel", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	canceledAt := s.clock.Now()
	invoice.CanceledAt = &canceledAt
	if result != nil {
		transactionID := result.TransactionID
		invoice.CancelTransactionID = &transactionID
	}
	if err := s.repo.Save(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) loadOrder(ctx context.Context, orderID snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, salesinvoicedomain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) startSpan(ctx context.Context, op string, orderID snowflake.ID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "salesinvoice."+op,
		trace.WithAttributes(attribute.String("order.id", orderID.String())),
	)
}

// finish records the outcome and routes err through the configured handler.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, invoice *salesinvoicedomain.SalesInvoice, err error) error {
	s.taxMetrics.IncInvoiceOperation(op, err)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, metrics.ClassifyOutcome(err))
		s.log.Warn("sales invoice operation failed", zap.String("op", op), zap.Error(err))
		if s.errHandler != nil {
			return s.errHandler(err)
		}
		return err
	}
	if invoice != nil {
		span.SetAttributes(attribute.String("salesinvoice.state", string(invoice.State())))
		s.metrics.RecordInvoiceEvent(ctx, op, string(invoice.State()))
	}
	return nil
}

// preTaxTotal prefers the provider's total and falls back to the request lines.
func preTaxTotal(result *avatax.GetTaxResult, req *builder.Request) (decimal.Decimal, error) {
	if result.TotalAmount != "" {
		total, err := result.TotalAmount.Decimal()
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: total amount: %w", taxdomain.ErrInvalidAPIResponse, err)
		}
		return total, nil
	}
	total := decimal.Zero
	for _, line := range req.Tax.Lines {
		total = total.Add(line.Amount)
	}
	return total, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
