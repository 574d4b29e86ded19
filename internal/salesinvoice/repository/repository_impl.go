package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	salesinvoicedomain "github.com/smallbiznis/salestax/internal/salesinvoice/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) salesinvoicedomain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) salesinvoicedomain.Repository {
	return &repository{db: tx}
}

func (r *repository) FindByOrder(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	var invoice salesinvoicedomain.SalesInvoice
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) Create(ctx context.Context, invoice *salesinvoicedomain.SalesInvoice) error {
	ensureMetadata(invoice)
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) Save(ctx context.Context, invoice *salesinvoicedomain.SalesInvoice) error {
	return r.db.WithContext(ctx).Save(invoice).Error
}

func (r *repository) Delete(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&salesinvoicedomain.SalesInvoice{}).Error
}

func (r *repository) Replace(ctx context.Context, invoice *salesinvoicedomain.SalesInvoice, fn func(tx *gorm.DB) error) error {
	ensureMetadata(invoice)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", invoice.OrderID).Delete(&salesinvoicedomain.SalesInvoice{}).Error; err != nil {
			return err
		}
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}
		if fn == nil {
			return nil
		}
		return fn(tx)
	})
}

func ensureMetadata(invoice *salesinvoicedomain.SalesInvoice) {
	if invoice != nil && invoice.Metadata == nil {
		invoice.Metadata = datatypes.JSONMap{}
	}
}
