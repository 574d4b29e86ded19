package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/salestax/internal/avatax"
	"github.com/smallbiznis/salestax/internal/clock"
	"github.com/smallbiznis/salestax/internal/lock"
	"github.com/smallbiznis/salestax/internal/migration"
	obsmetrics "github.com/smallbiznis/salestax/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	salesinvoicedomain "github.com/smallbiznis/salestax/internal/salesinvoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)

type mockInvoices struct {
	mock.Mock
}

func (m *mockInvoices) invoke(method string, ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	args := m.MethodCalled(method, ctx, orderID)
	inv, _ := args.Get(0).(*salesinvoicedomain.SalesInvoice)
	return inv, args.Error(1)
}

func (m *mockInvoices) Generate(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	return m.invoke("Generate", ctx, orderID)
}

func (m *mockInvoices) Commit(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	return m.invoke("Commit", ctx, orderID)
}

func (m *mockInvoices) Cancel(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	return m.invoke("Cancel", ctx, orderID)
}

func (m *mockInvoices) Get(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	return m.invoke("Get", ctx, orderID)
}

type fixture struct {
	db       *gorm.DB
	invoices *mockInvoices
	locker   *lock.LocalLocker
	sched    *Scheduler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.AutoMigrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(testNow)

	f := &fixture{
		db:       db,
		invoices: &mockInvoices{},
		locker:   lock.NewLocalLocker(fc),
	}
	f.sched, err = New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Invoices:   f.invoices,
		Locker:     f.locker,
		GenID:      node,
		Clock:      fc,
		Config:     cfg,
		TaxMetrics: obsmetrics.NewTaxMetrics(prometheus.NewRegistry(), obsmetrics.Config{}),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) order(t *testing.T, id snowflake.ID, completedAt *time.Time) {
	t.Helper()
	require.NoError(t, f.db.Create(&orderdomain.Order{
		ID:          id,
		Number:      "R" + id.String(),
		CompletedAt: completedAt,
	}).Error)
}

func (f *fixture) invoice(t *testing.T, id, orderID snowflake.ID, committed bool) {
	t.Helper()
	inv := &salesinvoicedomain.SalesInvoice{
		ID:       id,
		OrderID:  orderID,
		DocType:  "SalesInvoice",
		DocCode:  "R" + orderID.String(),
		DocDate:  "2024-05-17",
		Metadata: datatypes.JSONMap{},
	}
	if committed {
		at := testNow.Add(-time.Hour)
		inv.CommittedAt = &at
	}
	require.NoError(t, f.db.Create(inv).Error)
}

func ago(d time.Duration) *time.Time {
	at := testNow.Add(-d)
	return &at
}

func TestCommitCompletedOrdersSelectsPendingOrders(t *testing.T) {
	f := newFixture(t, Config{})

	f.order(t, 1, ago(time.Hour))       // no document yet
	f.order(t, 2, ago(time.Hour))       // already committed
	f.order(t, 3, nil)                  // still in checkout
	f.order(t, 4, ago(30*24*time.Hour)) // outside the lookback
	f.order(t, 5, ago(2*time.Hour))     // draft left behind
	f.invoice(t, 102, 2, true)
	f.invoice(t, 105, 5, false)

	for _, id := range []snowflake.ID{1, 5} {
		f.invoices.On("Generate", mock.Anything, id).Return(&salesinvoicedomain.SalesInvoice{OrderID: id}, nil).Once()
		f.invoices.On("Commit", mock.Anything, id).Return(&salesinvoicedomain.SalesInvoice{OrderID: id}, nil).Once()
	}

	require.NoError(t, f.sched.RunOnce(context.Background()))

	f.invoices.AssertExpectations(t)
	f.invoices.AssertNotCalled(t, "Generate", mock.Anything, snowflake.ID(2))
	f.invoices.AssertNotCalled(t, "Generate", mock.Anything, snowflake.ID(3))
	f.invoices.AssertNotCalled(t, "Generate", mock.Anything, snowflake.ID(4))
}

func TestCommitCompletedOrdersSkipsUntaxable(t *testing.T) {
	f := newFixture(t, Config{})
	f.order(t, 1, ago(time.Minute))
	f.invoices.On("Generate", mock.Anything, snowflake.ID(1)).Return(nil, nil).Once()

	require.NoError(t, f.sched.RunOnce(context.Background()))

	f.invoices.AssertExpectations(t)
	f.invoices.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
}

func TestCommitCompletedOrdersDefersLockedOrders(t *testing.T) {
	f := newFixture(t, Config{})
	f.order(t, 1, ago(time.Minute))

	_, ok, err := f.locker.TryLock(context.Background(), lock.OrderKey("1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	f.invoices.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestCommitCompletedOrdersContinuesPastFailures(t *testing.T) {
	f := newFixture(t, Config{})
	f.order(t, 1, ago(time.Minute))
	f.order(t, 2, ago(time.Minute))

	providerErr := &avatax.Error{Kind: avatax.KindTransport, Op: "gettax", Message: "timeout"}
	f.invoices.On("Generate", mock.Anything, snowflake.ID(1)).Return(nil, providerErr).Once()
	f.invoices.On("Generate", mock.Anything, snowflake.ID(2)).Return(&salesinvoicedomain.SalesInvoice{OrderID: 2}, nil).Once()
	f.invoices.On("Commit", mock.Anything, snowflake.ID(2)).Return(&salesinvoicedomain.SalesInvoice{OrderID: 2}, nil).Once()

	err := f.sched.RunOnce(context.Background())

	require.Error(t, err)
	var perr *avatax.Error
	assert.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), JobCommitCompletedOrders)
	f.invoices.AssertExpectations(t)

	// the lock is released even when the order failed
	_, ok, lockErr := f.locker.TryLock(context.Background(), lock.OrderKey("1"), time.Minute)
	require.NoError(t, lockErr)
	assert.True(t, ok)
}

func TestCommitCompletedOrdersWalksEveryBatch(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})
	for id := snowflake.ID(1); id <= 5; id++ {
		f.order(t, id, ago(time.Minute))
		f.invoices.On("Generate", mock.Anything, id).Return(nil, nil).Once()
	}

	require.NoError(t, f.sched.RunOnce(context.Background()))
	f.invoices.AssertExpectations(t)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BatchSize: 10}.withDefaults()
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 72*time.Hour, cfg.Lookback)
	assert.Greater(t, cfg.LockTTL, time.Duration(0))
}
