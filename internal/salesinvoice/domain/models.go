// Package domain contains the provider tax document recorded for an order.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// State is derived from the document timestamps.
type State string

const (
	StateDraft     State = "draft"
	StateCommitted State = "committed"
	StateCanceled  State = "canceled"
)

// SalesInvoice mirrors the document the provider holds for an order. There
// is at most one per order.
type SalesInvoice struct {
	ID                  snowflake.ID      `gorm:"primaryKey"`
	OrderID             snowflake.ID      `gorm:"not null;uniqueIndex"`
	DocType             string            `gorm:"type:text;not null"`
	TransactionID       string            `gorm:"type:text"`
	DocID               string            `gorm:"type:text"`
	DocCode             string            `gorm:"type:text;not null"`
	DocDate             string            `gorm:"type:text;not null"`
	PreTaxTotal         decimal.Decimal   `gorm:"type:numeric(12,2);not null;default:0"`
	AdditionalTaxTotal  decimal.Decimal   `gorm:"type:numeric(12,2);not null;default:0"`
	CommittedAt         *time.Time        `gorm:""`
	CanceledAt          *time.Time        `gorm:""`
	CancelTransactionID *string           `gorm:"type:text"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SalesInvoice) TableName() string { return "sales_invoices" }

func (s *SalesInvoice) State() State {
	switch {
	case s.CanceledAt != nil:
		return StateCanceled
	case s.CommittedAt != nil:
		return StateCommitted
	default:
		return StateDraft
	}
}
