package domain

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/salestax/internal/avatax"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
)

// Provider is the remote tax engine. *avatax.Client implements it.
type Provider interface {
	QuoteTax(ctx context.Context, req *avatax.GetTaxRequest) (*avatax.GetTaxResult, error)
	CommitTax(ctx context.Context, req *avatax.PostTaxRequest) (*avatax.PostTaxResult, error)
	CancelTax(ctx context.Context, req *avatax.CancelTaxRequest) (*avatax.CancelTaxResult, error)
}

var _ Provider = (*avatax.Client)(nil)

// Computer computes and stores tax for an order, or for one of its line items.
// Provider failures degrade to a zero amount; everything else is returned.
type Computer interface {
	ComputeOrder(ctx context.Context, order *orderdomain.Order, cc ComputationContext) (decimal.Decimal, error)
	ComputeLineItem(ctx context.Context, item *orderdomain.LineItem, cc ComputationContext) (decimal.Decimal, error)
}
