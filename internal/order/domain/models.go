// Package domain contains persistence models for orders and the line items
// that tax is computed against.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// StatusField names an order timestamp column that records the last
// successful provider round trip.
type StatusField string

const (
	StatusFieldResponseAt StatusField = "avatax_response_at"
	StatusFieldInvoiceAt  StatusField = "avatax_invoice_at"
)

func (f StatusField) Valid() bool {
	switch f {
	case StatusFieldResponseAt, StatusFieldInvoiceAt:
		return true
	default:
		return false
	}
}

// Adjustment sources and targets.
const (
	SourcePromotion = "promotion"
	SourceTaxRate   = "tax_rate"

	AdjustableOrder    = "order"
	AdjustableLineItem = "line_item"

	AdjustmentStateOpen   = "open"
	AdjustmentStateClosed = "closed"
)

// Order is the read model consumed by tax computation. Tax fields and status
// timestamps are the only columns written back.
type Order struct {
	ID                 snowflake.ID    `gorm:"primaryKey"`
	Number             string          `gorm:"type:text;not null;uniqueIndex"`
	Email              string          `gorm:"type:text"`
	ShipAddressID      *snowflake.ID   `gorm:"index"`
	ShipAddress        *Address        `gorm:"foreignKey:ShipAddressID"`
	ItemTotal          decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	PromoTotal         decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	AdditionalTaxTotal decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	AvataxResponseAt   *time.Time      `gorm:""`
	AvataxInvoiceAt    *time.Time      `gorm:""`
	CompletedAt        *time.Time      `gorm:""`
	LineItems          []LineItem      `gorm:"foreignKey:OrderID"`
	CreatedAt          time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// Taxable reports whether the order has enough data to be sent to the provider.
func (o *Order) Taxable() bool {
	return o != nil && o.ShipAddress != nil && len(o.LineItems) > 0
}

// PromotionAdjustmentTotal is the absolute sum of eligible order-level promotions.
func (o *Order) PromotionAdjustmentTotal() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	return o.PromoTotal.Abs()
}

// LineItemByID returns the order's line item with the given id, or nil.
func (o *Order) LineItemByID(id snowflake.ID) *LineItem {
	if o == nil {
		return nil
	}
	for i := range o.LineItems {
		if o.LineItems[i].ID == id {
			return &o.LineItems[i]
		}
	}
	return nil
}

// StatusAt returns the timestamp stored in the given status column.
func (o *Order) StatusAt(field StatusField) *time.Time {
	switch field {
	case StatusFieldResponseAt:
		return o.AvataxResponseAt
	case StatusFieldInvoiceAt:
		return o.AvataxInvoiceAt
	default:
		return nil
	}
}

// SetStatusAt mirrors a status column write on the in-memory order.
func (o *Order) SetStatusAt(field StatusField, at *time.Time) {
	switch field {
	case StatusFieldResponseAt:
		o.AvataxResponseAt = at
	case StatusFieldInvoiceAt:
		o.AvataxInvoiceAt = at
	}
}

// LineItem is a single product line on an order.
type LineItem struct {
	ID                 snowflake.ID    `gorm:"primaryKey"`
	OrderID            snowflake.ID    `gorm:"not null;index"`
	SKU                string          `gorm:"column:sku;type:text;not null"`
	Description        string          `gorm:"type:text"`
	TaxCategoryID      snowflake.ID    `gorm:"not null;index"`
	Quantity           int64           `gorm:"not null"`
	Price              decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	PromoTotal         decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	AdditionalTaxTotal decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	CreatedAt          time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "line_items" }

// Amount is price times quantity, before promotions and tax.
func (li *LineItem) Amount() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(li.Quantity))
}

// DiscountedAmount is the taxable base: price times quantity minus eligible
// line-level promotions. It never includes previously applied tax.
func (li *LineItem) DiscountedAmount() decimal.Decimal {
	return li.Amount().Sub(li.PromoTotal.Abs())
}

// Address is a postal address used as the ship-to destination.
type Address struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Address1    string       `gorm:"type:text"`
	Address2    string       `gorm:"type:text"`
	City        string       `gorm:"type:text"`
	Zipcode     string       `gorm:"type:text"`
	StateCode   string       `gorm:"type:text"`
	CountryCode string       `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Address) TableName() string { return "addresses" }

// Adjustment is a signed amount attached to an order or a line item.
type Adjustment struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	OrderID        snowflake.ID    `gorm:"not null;index"`
	AdjustableType string          `gorm:"type:text;not null"`
	AdjustableID   snowflake.ID    `gorm:"not null;index"`
	SourceType     string          `gorm:"type:text;not null"`
	SourceID       snowflake.ID    `gorm:"not null"`
	Label          string          `gorm:"type:text"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	State          string          `gorm:"type:text;not null;default:'open'"`
	Eligible       bool            `gorm:"not null;default:true"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Adjustment) TableName() string { return "adjustments" }

// TaxRate is the rate whose calculator delegates to the provider.
type TaxRate struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	Name          string       `gorm:"type:text;not null"`
	TaxCategoryID snowflake.ID `gorm:"not null;index"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TaxRate) TableName() string { return "tax_rates" }
