package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
)

var (
	ErrAlreadyCommitted      = errors.New("sales_invoice_already_committed")
	ErrCommitInvoiceNotFound = errors.New("commit_invoice_not_found")
	ErrInvoiceNotFound       = errors.New("sales_invoice_not_found")
	ErrTaxRateNotFound       = orderdomain.ErrTaxRateNotFound
	ErrOrderNotFound         = orderdomain.ErrOrderNotFound
)

// Service drives an order's provider document from draft to committed or
// canceled.
type Service interface {
	Generate(ctx context.Context, orderID snowflake.ID) (*SalesInvoice, error)
	Commit(ctx context.Context, orderID snowflake.ID) (*SalesInvoice, error)
	Cancel(ctx context.Context, orderID snowflake.ID) (*SalesInvoice, error)
	Get(ctx context.Context, orderID snowflake.ID) (*SalesInvoice, error)
}

// ErrorHandler may replace any error returned by Generate, Commit or Cancel.
type ErrorHandler func(error) error

// TaxabilityChecker decides whether a completed order is sent to the provider.
type TaxabilityChecker interface {
	Taxable(order *orderdomain.Order) bool
}

// TaxabilityFunc adapts a function to TaxabilityChecker.
type TaxabilityFunc func(order *orderdomain.Order) bool

func (f TaxabilityFunc) Taxable(order *orderdomain.Order) bool { return f(order) }
