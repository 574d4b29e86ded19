package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound    = errors.New("order_not_found")
	ErrLineItemNotFound = errors.New("line_item_not_found")
	ErrTaxRateNotFound  = errors.New("tax_rate_not_found")
	ErrInvalidStatus    = errors.New("invalid_status_field")
)

// Repository reads orders and writes back tax results. Finders return nil, nil
// when the record does not exist.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindByID(ctx context.Context, id snowflake.ID) (*Order, error)
	FindLineItem(ctx context.Context, id snowflake.ID) (*LineItem, error)
	FindTaxRate(ctx context.Context, id snowflake.ID) (*TaxRate, error)
	FindTaxRateByName(ctx context.Context, name string) (*TaxRate, error)

	// UpdateTotals recomputes item and promotion totals from line items and
	// eligible promotion adjustments, persisting and mirroring them on order.
	UpdateTotals(ctx context.Context, order *Order) error

	// ApplyTaxes writes line item taxes, the order tax total and the status
	// timestamp in one transaction.
	ApplyTaxes(ctx context.Context, order *Order, items []*LineItem, field StatusField, at time.Time) error
	ClearStatus(ctx context.Context, orderID snowflake.ID, field StatusField) error

	ReplaceTaxAdjustments(ctx context.Context, orderID snowflake.ID, adjustments []Adjustment) error
}
