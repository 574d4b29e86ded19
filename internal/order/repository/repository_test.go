package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&orderdomain.Address{},
		&orderdomain.Order{},
		&orderdomain.LineItem{},
		&orderdomain.Adjustment{},
		&orderdomain.TaxRate{},
	))
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, node *snowflake.Node) *orderdomain.Order {
	t.Helper()

	addr := orderdomain.Address{
		ID:          node.Generate(),
		Address1:    "915 S Jackson St",
		City:        "Montgomery",
		Zipcode:     "36104",
		StateCode:   "AL",
		CountryCode: "US",
	}
	require.NoError(t, db.Create(&addr).Error)

	order := orderdomain.Order{
		ID:            node.Generate(),
		Number:        "R100000001",
		Email:         "buyer@example.com",
		ShipAddressID: &addr.ID,
	}
	require.NoError(t, db.Create(&order).Error)

	items := []orderdomain.LineItem{
		{ID: node.Generate(), OrderID: order.ID, SKU: "SKU-1", Quantity: 2, Price: decimal.RequireFromString("10.00"), TaxCategoryID: 1},
		{ID: node.Generate(), OrderID: order.ID, SKU: "SKU-2", Quantity: 1, Price: decimal.RequireFromString("5.50"), TaxCategoryID: 2},
	}
	require.NoError(t, db.Create(&items).Error)
	return &order
}

func TestFindByIDPreloadsRelations(t *testing.T) {
	db := setupDB(t)
	node, _ := snowflake.NewNode(1)
	seeded := seedOrder(t, db, node)
	repo := NewRepository(db)

	found, err := repo.FindByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "R100000001", found.Number)
	require.NotNil(t, found.ShipAddress)
	assert.Equal(t, "36104", found.ShipAddress.Zipcode)
	require.Len(t, found.LineItems, 2)
	assert.Equal(t, "SKU-1", found.LineItems[0].SKU)
	assert.True(t, found.Taxable())

	missing, err := repo.FindByID(context.Background(), node.Generate())
	assert.NoError(t, err)
	assert.Nil(t, missing)

	item, err := repo.FindLineItem(context.Background(), node.Generate())
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestUpdateTotalsFromPromotions(t *testing.T) {
	db := setupDB(t)
	node, _ := snowflake.NewNode(1)
	seeded := seedOrder(t, db, node)
	repo := NewRepository(db)
	ctx := context.Background()

	order, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	first := order.LineItems[0]

	adjustments := []orderdomain.Adjustment{
		{ID: node.Generate(), OrderID: order.ID, AdjustableType: orderdomain.AdjustableLineItem, AdjustableID: first.ID, SourceType: orderdomain.SourcePromotion, Amount: decimal.RequireFromString("-3.00"), Eligible: true},
		{ID: node.Generate(), OrderID: order.ID, AdjustableType: orderdomain.AdjustableOrder, AdjustableID: order.ID, SourceType: orderdomain.SourcePromotion, Amount: decimal.RequireFromString("-2.00"), Eligible: true},
	}
	require.NoError(t, db.Create(&adjustments).Error)
	// ineligible promotions are ignored
	ineligible := orderdomain.Adjustment{
		ID: node.Generate(), OrderID: order.ID, AdjustableType: orderdomain.AdjustableOrder, AdjustableID: order.ID,
		SourceType: orderdomain.SourcePromotion, Amount: decimal.RequireFromString("-50.00"),
	}
	require.NoError(t, db.Create(&ineligible).Error)
	require.NoError(t, db.Model(&orderdomain.Adjustment{}).Where("id = ?", ineligible.ID).UpdateColumn("eligible", false).Error)

	require.NoError(t, repo.UpdateTotals(ctx, order))

	assert.True(t, order.ItemTotal.Equal(decimal.RequireFromString("25.50")))
	assert.True(t, order.PromoTotal.Equal(decimal.RequireFromString("-2.00")))
	assert.True(t, order.PromotionAdjustmentTotal().Equal(decimal.RequireFromString("2.00")))
	assert.True(t, order.LineItems[0].DiscountedAmount().Equal(decimal.RequireFromString("17.00")))
	assert.True(t, order.LineItems[1].DiscountedAmount().Equal(decimal.RequireFromString("5.50")))

	reloaded, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.ItemTotal.Equal(decimal.RequireFromString("25.50")))
	assert.True(t, reloaded.LineItems[0].PromoTotal.Equal(decimal.RequireFromString("-3.00")))
}

func TestApplyTaxesAndClearStatus(t *testing.T) {
	db := setupDB(t)
	node, _ := snowflake.NewNode(1)
	seeded := seedOrder(t, db, node)
	repo := NewRepository(db)
	ctx := context.Background()

	order, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	before := order.LineItems[0].UpdatedAt

	first := &order.LineItems[0]
	first.AdditionalTaxTotal = decimal.RequireFromString("1.60")
	order.AdditionalTaxTotal = decimal.RequireFromString("1.60")
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.ApplyTaxes(ctx, order, []*orderdomain.LineItem{first}, orderdomain.StatusFieldResponseAt, at))
	require.NotNil(t, order.AvataxResponseAt)

	reloaded, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.AdditionalTaxTotal.Equal(decimal.RequireFromString("1.60")))
	assert.True(t, reloaded.LineItems[0].AdditionalTaxTotal.Equal(decimal.RequireFromString("1.60")))
	assert.True(t, reloaded.LineItems[1].AdditionalTaxTotal.IsZero())
	require.NotNil(t, reloaded.AvataxResponseAt)
	assert.True(t, at.Equal(*reloaded.AvataxResponseAt))
	assert.Nil(t, reloaded.AvataxInvoiceAt)
	assert.True(t, before.Equal(reloaded.LineItems[0].UpdatedAt))

	require.NoError(t, repo.ClearStatus(ctx, order.ID, orderdomain.StatusFieldResponseAt))
	cleared, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, cleared.AvataxResponseAt)

	err = repo.ClearStatus(ctx, order.ID, orderdomain.StatusField("updated_at"))
	assert.ErrorIs(t, err, orderdomain.ErrInvalidStatus)
}

func TestReplaceTaxAdjustments(t *testing.T) {
	db := setupDB(t)
	node, _ := snowflake.NewNode(1)
	seeded := seedOrder(t, db, node)
	repo := NewRepository(db)
	ctx := context.Background()

	rateID := node.Generate()
	build := func(amount string) []orderdomain.Adjustment {
		return []orderdomain.Adjustment{{
			ID:             node.Generate(),
			OrderID:        seeded.ID,
			AdjustableType: orderdomain.AdjustableLineItem,
			AdjustableID:   node.Generate(),
			SourceType:     orderdomain.SourceTaxRate,
			SourceID:       rateID,
			Label:          "Sales Tax",
			Amount:         decimal.RequireFromString(amount),
			State:          orderdomain.AdjustmentStateClosed,
			Eligible:       true,
		}}
	}

	require.NoError(t, repo.ReplaceTaxAdjustments(ctx, seeded.ID, build("1.00")))
	require.NoError(t, repo.ReplaceTaxAdjustments(ctx, seeded.ID, build("2.00")))

	var stored []orderdomain.Adjustment
	require.NoError(t, db.Where("order_id = ? AND source_type = ?", seeded.ID, orderdomain.SourceTaxRate).Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Amount.Equal(decimal.RequireFromString("2.00")))
	assert.Equal(t, orderdomain.AdjustmentStateClosed, stored[0].State)
}

func TestFindTaxRate(t *testing.T) {
	db := setupDB(t)
	node, _ := snowflake.NewNode(1)
	repo := NewRepository(db)
	ctx := context.Background()

	rate := orderdomain.TaxRate{ID: node.Generate(), Name: "Avatax", TaxCategoryID: 1}
	require.NoError(t, db.Create(&rate).Error)

	byID, err := repo.FindTaxRate(ctx, rate.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "Avatax", byID.Name)

	byName, err := repo.FindTaxRateByName(ctx, "Avatax")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, rate.ID, byName.ID)

	missing, err := repo.FindTaxRateByName(ctx, "VAT")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
