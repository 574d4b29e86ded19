package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock
}

func TestApplyTaxesCommitsOnPostgres(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	order := &orderdomain.Order{ID: 10, AdditionalTaxTotal: decimal.RequireFromString("1.50")}
	item := &orderdomain.LineItem{ID: 11, OrderID: 10, AdditionalTaxTotal: decimal.RequireFromString("1.50")}
	at := time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "line_items" SET "additional_tax_total"=\$1 WHERE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "orders" SET "additional_tax_total"=\$1,"avatax_response_at"=\$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ApplyTaxes(context.Background(), order, []*orderdomain.LineItem{item}, orderdomain.StatusFieldResponseAt, at)
	require.NoError(t, err)
	require.NotNil(t, order.AvataxResponseAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTaxesRollsBackOnPostgres(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	order := &orderdomain.Order{ID: 10}
	item := &orderdomain.LineItem{ID: 11, OrderID: 10}
	deadlock := errors.New("deadlock detected")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "line_items"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "orders"`).WillReturnError(deadlock)
	mock.ExpectRollback()

	err := repo.ApplyTaxes(context.Background(), order, []*orderdomain.LineItem{item}, orderdomain.StatusFieldInvoiceAt, time.Now())
	assert.ErrorIs(t, err, deadlock)
	assert.Nil(t, order.AvataxInvoiceAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
