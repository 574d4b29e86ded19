package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists sales invoices. FindByOrder returns nil, nil when the
// order has no document.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindByOrder(ctx context.Context, orderID snowflake.ID) (*SalesInvoice, error)
	Create(ctx context.Context, invoice *SalesInvoice) error
	Save(ctx context.Context, invoice *SalesInvoice) error
	Delete(ctx context.Context, id snowflake.ID) error

	// Replace swaps the order's document for invoice and runs fn in the same
	// transaction. Nothing is written if fn fails.
	Replace(ctx context.Context, invoice *SalesInvoice, fn func(tx *gorm.DB) error) error
}
