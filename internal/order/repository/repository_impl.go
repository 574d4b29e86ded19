package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) orderdomain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) orderdomain.Repository {
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := r.db.WithContext(ctx).
		Preload("ShipAddress").
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindLineItem(ctx context.Context, id snowflake.ID) (*orderdomain.LineItem, error) {
	var item orderdomain.LineItem
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindTaxRate(ctx context.Context, id snowflake.ID) (*orderdomain.TaxRate, error) {
	var rate orderdomain.TaxRate
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}

func (r *repository) FindTaxRateByName(ctx context.Context, name string) (*orderdomain.TaxRate, error) {
	var rate orderdomain.TaxRate
	err := r.db.WithContext(ctx).Where("name = ?", name).Order("id ASC").First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}

func (r *repository) UpdateTotals(ctx context.Context, order *orderdomain.Order) error {
	if order == nil {
		return orderdomain.ErrOrderNotFound
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var items []orderdomain.LineItem
		if err := tx.Where("order_id = ?", order.ID).Order("id ASC").Find(&items).Error; err != nil {
			return err
		}

		var promotions []orderdomain.Adjustment
		if err := tx.
			Where("order_id = ? AND source_type = ? AND eligible = ?", order.ID, orderdomain.SourcePromotion, true).
			Find(&promotions).Error; err != nil {
			return err
		}

		linePromos := make(map[snowflake.ID]decimal.Decimal, len(items))
		orderPromo := decimal.Zero
		for _, adj := range promotions {
			switch adj.AdjustableType {
			case orderdomain.AdjustableLineItem:
				linePromos[adj.AdjustableID] = linePromos[adj.AdjustableID].Add(adj.Amount)
			default:
				orderPromo = orderPromo.Add(adj.Amount)
			}
		}

		itemTotal := decimal.Zero
		for i := range items {
			item := &items[i]
			itemTotal = itemTotal.Add(item.Amount())

			promo := linePromos[item.ID]
			if !item.PromoTotal.Equal(promo) {
				if err := tx.Model(&orderdomain.LineItem{}).
					Where("id = ?", item.ID).
					UpdateColumn("promo_total", promo).Error; err != nil {
					return err
				}
			}
			if mirrored := order.LineItemByID(item.ID); mirrored != nil {
				mirrored.PromoTotal = promo
				mirrored.Quantity = item.Quantity
				mirrored.Price = item.Price
			}
		}

		if err := tx.Model(&orderdomain.Order{}).
			Where("id = ?", order.ID).
			UpdateColumns(map[string]any{
				"item_total":  itemTotal,
				"promo_total": orderPromo,
			}).Error; err != nil {
			return err
		}

		order.ItemTotal = itemTotal
		order.PromoTotal = orderPromo
		return nil
	})
}

func (r *repository) ApplyTaxes(ctx context.Context, order *orderdomain.Order, items []*orderdomain.LineItem, field orderdomain.StatusField, at time.Time) error {
	if order == nil {
		return orderdomain.ErrOrderNotFound
	}
	if !field.Valid() {
		return fmt.Errorf("%w: %q", orderdomain.ErrInvalidStatus, field)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			if item == nil {
				continue
			}
			if err := tx.Model(&orderdomain.LineItem{}).
				Where("id = ? AND order_id = ?", item.ID, order.ID).
				UpdateColumn("additional_tax_total", item.AdditionalTaxTotal).Error; err != nil {
				return err
			}
		}

		return tx.Model(&orderdomain.Order{}).
			Where("id = ?", order.ID).
			UpdateColumns(map[string]any{
				"additional_tax_total": order.AdditionalTaxTotal,
				string(field):          at,
			}).Error
	})
	if err != nil {
		return err
	}

	order.SetStatusAt(field, &at)
	return nil
}

func (r *repository) ClearStatus(ctx context.Context, orderID snowflake.ID, field orderdomain.StatusField) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %q", orderdomain.ErrInvalidStatus, field)
	}
	return r.db.WithContext(ctx).
		Model(&orderdomain.Order{}).
		Where("id = ?", orderID).
		UpdateColumn(string(field), gorm.Expr("NULL")).Error
}

func (r *repository) ReplaceTaxAdjustments(ctx context.Context, orderID snowflake.ID, adjustments []orderdomain.Adjustment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("order_id = ? AND source_type = ?", orderID, orderdomain.SourceTaxRate).
			Delete(&orderdomain.Adjustment{}).Error; err != nil {
			return err
		}
		if len(adjustments) == 0 {
			return nil
		}
		return tx.Create(&adjustments).Error
	})
}
