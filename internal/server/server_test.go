package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/salestax/internal/avatax"
	"github.com/smallbiznis/salestax/internal/config"
	"github.com/smallbiznis/salestax/internal/lock"
	"github.com/smallbiznis/salestax/internal/observability"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	orderrepository "github.com/smallbiznis/salestax/internal/order/repository"
	salesinvoicedomain "github.com/smallbiznis/salestax/internal/salesinvoice/domain"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockComputer struct {
	mock.Mock
}

func (m *mockComputer) ComputeOrder(ctx context.Context, order *orderdomain.Order, cc taxdomain.ComputationContext) (decimal.Decimal, error) {
	args := m.Called(ctx, order, cc)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockComputer) ComputeLineItem(ctx context.Context, item *orderdomain.LineItem, cc taxdomain.ComputationContext) (decimal.Decimal, error) {
	args := m.Called(ctx, item, cc)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockInvoices struct {
	mock.Mock
}

func (m *mockInvoices) call(method string, ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	args := m.MethodCalled(method, ctx, orderID)
	inv, _ := args.Get(0).(*salesinvoicedomain.SalesInvoice)
	return inv, args.Error(1)
}

func (m *mockInvoices) Generate(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	return m.call("Generate", ctx, orderID)
}

func (m *mockInvoices) Commit(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	return m.call("Commit", ctx, orderID)
}

func (m *mockInvoices) Cancel(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	return m.call("Cancel", ctx, orderID)
}

func (m *mockInvoices) Get(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error) {
	return m.call("Get", ctx, orderID)
}

type testServer struct {
	engine   *gin.Engine
	db       *gorm.DB
	computer *mockComputer
	invoices *mockInvoices
	locker   *lock.LocalLocker
	order    orderdomain.Order
	item     orderdomain.LineItem
	rate     orderdomain.TaxRate
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	ts := &testServer{
		db:       db,
		computer: &mockComputer{},
		invoices: &mockInvoices{},
		locker:   lock.NewLocalLocker(nil),
		order:    orderdomain.Order{ID: 1001, Number: "R400000001"},
		rate:     orderdomain.TaxRate{ID: 2001, Name: "Avatax", TaxCategoryID: 7},
	}
	ts.item = orderdomain.LineItem{ID: 3001, OrderID: ts.order.ID, SKU: "TEE", Quantity: 1, Price: decimal.RequireFromString("20.00"), TaxCategoryID: 7}
	require.NoError(t, db.Create(&ts.order).Error)
	require.NoError(t, db.Create(&ts.item).Error)
	require.NoError(t, db.Create(&ts.rate).Error)

	ts.engine = NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Gin:      ts.engine,
		Cfg:      config.Config{Lock: config.LockConfig{TTL: time.Minute}},
		Log:      zap.NewNop(),
		Orders:   orderrepository.NewRepository(db),
		Computer: ts.computer,
		Invoices: ts.invoices,
		Locker:   ts.locker,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func errorType(body map[string]any) string {
	payload, _ := body["error"].(map[string]any)
	typ, _ := payload["type"].(string)
	return typ
}

func (ts *testServer) orderPath(suffix string) string {
	return fmt.Sprintf("/v1/orders/%s%s", ts.order.ID.String(), suffix)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = ts.do(t, http.MethodGet, "/v1/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorType(body))
}

func TestComputeOrderTaxWithRate(t *testing.T) {
	ts := newTestServer(t)
	ts.computer.On("ComputeOrder", mock.Anything,
		mock.MatchedBy(func(o *orderdomain.Order) bool { return o.ID == ts.order.ID }),
		mock.MatchedBy(func(cc taxdomain.ComputationContext) bool {
			rc, ok := cc.(taxdomain.RateContext)
			return ok && rc.Rate != nil && rc.Rate.ID == ts.rate.ID
		}),
	).Return(decimal.RequireFromString("21.75"), nil).Once()

	rec, body := ts.do(t, http.MethodPost, ts.orderPath("/tax"), map[string]string{
		"tax_rate_id": ts.rate.ID.String(),
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "21.75", body["total_tax"])
	assert.Equal(t, "SalesOrder", body["doc_type"])
	ts.computer.AssertExpectations(t)
}

func TestComputeOrderTaxInvoiceContext(t *testing.T) {
	ts := newTestServer(t)
	ts.computer.On("ComputeOrder", mock.Anything, mock.Anything, taxdomain.InvoiceContext{}).
		Return(decimal.RequireFromString("3"), nil).Once()

	rec, body := ts.do(t, http.MethodPost, ts.orderPath("/tax"), map[string]string{
		"doc_type": "SalesInvoice",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "3.00", body["total_tax"])
	ts.computer.AssertExpectations(t)
}

func TestComputeOrderTaxRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name   string
		path   string
		body   map[string]string
		status int
		typ    string
	}{
		{name: "missing rate", path: ts.orderPath("/tax"), body: map[string]string{}, status: http.StatusBadRequest, typ: "validation_error"},
		{name: "bad doc type", path: ts.orderPath("/tax"), body: map[string]string{"doc_type": "ReturnInvoice"}, status: http.StatusBadRequest, typ: "validation_error"},
		{name: "bad order id", path: "/v1/orders/abc/tax", body: map[string]string{"doc_type": "SalesInvoice"}, status: http.StatusBadRequest, typ: "validation_error"},
		{name: "unknown rate", path: ts.orderPath("/tax"), body: map[string]string{"tax_rate_id": "999"}, status: http.StatusNotFound, typ: "not_found"},
		{name: "unknown order", path: "/v1/orders/4242/tax", body: map[string]string{"tax_rate_id": ts.rate.ID.String()}, status: http.StatusNotFound, typ: "not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := ts.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.typ, errorType(body))
		})
	}
	ts.computer.AssertNotCalled(t, "ComputeOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestComputeOrderTaxMapsComputerErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.computer.On("ComputeOrder", mock.Anything, mock.Anything, mock.Anything).
		Return(decimal.Zero, fmt.Errorf("%w: unmatched line", taxdomain.ErrInvalidAPIResponse)).Once()

	rec, body := ts.do(t, http.MethodPost, ts.orderPath("/tax"), map[string]string{"doc_type": "SalesInvoice"})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "invalid_api_response", errorType(body))
}

func TestOrderLockHeldReturnsConflict(t *testing.T) {
	ts := newTestServer(t)
	_, ok, err := ts.locker.TryLock(context.Background(), lock.OrderKey(ts.order.ID.String()), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	rec, body := ts.do(t, http.MethodPost, ts.orderPath("/tax"), map[string]string{"doc_type": "SalesInvoice"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "lock_held", errorType(body))

	rec, _ = ts.do(t, http.MethodPost, ts.orderPath("/sales_invoice/commit"), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.computer.AssertNotCalled(t, "ComputeOrder", mock.Anything, mock.Anything, mock.Anything)
	ts.invoices.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
}

func TestOrderLockReleasedAfterRequest(t *testing.T) {
	ts := newTestServer(t)
	ts.computer.On("ComputeOrder", mock.Anything, mock.Anything, mock.Anything).
		Return(decimal.Zero, nil).Twice()

	for i := 0; i < 2; i++ {
		rec, _ := ts.do(t, http.MethodPost, ts.orderPath("/tax"), map[string]string{"doc_type": "SalesInvoice"})
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	ts.computer.AssertExpectations(t)
}

func TestComputeLineItemTax(t *testing.T) {
	ts := newTestServer(t)
	ts.computer.On("ComputeLineItem", mock.Anything,
		mock.MatchedBy(func(li *orderdomain.LineItem) bool { return li.ID == ts.item.ID }),
		mock.Anything,
	).Return(decimal.RequireFromString("1.8"), nil).Once()

	rec, body := ts.do(t, http.MethodPost, ts.orderPath("/line_items/"+ts.item.ID.String()+"/tax"), map[string]string{
		"tax_rate_id": ts.rate.ID.String(),
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1.80", body["additional_tax_total"])
	assert.Equal(t, ts.item.ID.String(), body["line_item_id"])
	ts.computer.AssertExpectations(t)
}

func TestComputeLineItemTaxRequiresOwningOrder(t *testing.T) {
	ts := newTestServer(t)
	other := orderdomain.Order{ID: 1002, Number: "R400000002"}
	require.NoError(t, ts.db.Create(&other).Error)

	rec, body := ts.do(t, http.MethodPost, fmt.Sprintf("/v1/orders/%s/line_items/%s/tax", other.ID, ts.item.ID), map[string]string{
		"tax_rate_id": ts.rate.ID.String(),
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorType(body))
	ts.computer.AssertNotCalled(t, "ComputeLineItem", mock.Anything, mock.Anything, mock.Anything)
}

func TestSalesInvoiceEndpoints(t *testing.T) {
	ts := newTestServer(t)
	committedAt := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)
	draft := &salesinvoicedomain.SalesInvoice{
		ID:                 5001,
		OrderID:            ts.order.ID,
		DocType:            "SalesInvoice",
		DocCode:            ts.order.Number,
		DocDate:            "2024-05-17",
		PreTaxTotal:        decimal.RequireFromString("100"),
		AdditionalTaxTotal: decimal.RequireFromString("10.1"),
	}
	committed := *draft
	committed.CommittedAt = &committedAt

	ts.invoices.On("Generate", mock.Anything, ts.order.ID).Return(draft, nil).Once()
	ts.invoices.On("Commit", mock.Anything, ts.order.ID).Return(&committed, nil).Once()
	ts.invoices.On("Get", mock.Anything, ts.order.ID).Return(&committed, nil).Once()

	rec, body := ts.do(t, http.MethodPost, ts.orderPath("/sales_invoice"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := body["data"].(map[string]any)
	assert.Equal(t, "draft", data["state"])
	assert.Equal(t, "10.10", data["additional_tax_total"])
	assert.Equal(t, "100.00", data["pre_tax_total"])

	rec, body = ts.do(t, http.MethodPost, ts.orderPath("/sales_invoice/commit"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "committed", body["data"].(map[string]any)["state"])

	rec, body = ts.do(t, http.MethodGet, ts.orderPath("/sales_invoice"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ts.order.ID.String(), body["data"].(map[string]any)["order_id"])

	ts.invoices.AssertExpectations(t)
}

func TestSalesInvoiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		method string
		op     string
		path   string
		ret    *salesinvoicedomain.SalesInvoice
		err    error
		status int
	}{
		{name: "untaxable order", method: http.MethodPost, op: "Generate", path: "/sales_invoice", status: http.StatusNoContent},
		{name: "already committed", method: http.MethodPost, op: "Generate", path: "/sales_invoice", err: salesinvoicedomain.ErrAlreadyCommitted, status: http.StatusConflict},
		{name: "nothing to commit", method: http.MethodPost, op: "Commit", path: "/sales_invoice/commit", err: salesinvoicedomain.ErrCommitInvoiceNotFound, status: http.StatusNotFound},
		{name: "provider rejected cancel", method: http.MethodPost, op: "Cancel", path: "/sales_invoice/cancel", err: &avatax.Error{Kind: avatax.KindAPI, Op: "canceltax", StatusCode: 400, Message: "DocStatus is invalid"}, status: http.StatusBadGateway},
		{name: "missing document", method: http.MethodGet, op: "Get", path: "/sales_invoice", err: salesinvoicedomain.ErrInvoiceNotFound, status: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.invoices.On(tc.op, mock.Anything, ts.order.ID).Return(tc.ret, tc.err).Once()

			rec, _ := ts.do(t, tc.method, ts.orderPath(tc.path), nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			ts.invoices.AssertExpectations(t)
		})
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(&avatax.Error{Kind: avatax.KindTransport, Message: "timeout"})
	assert.Equal(t, "provider_error", typ)
	assert.Equal(t, "TimeoutError", code)

	typ, code = classifyErrorForLog(fmt.Errorf("load: %w", orderdomain.ErrOrderNotFound))
	assert.Equal(t, "not_found", typ)
	assert.Equal(t, "order_not_found", code)

	typ, code = classifyErrorForLog(lock.ErrLockHeld)
	assert.Equal(t, "lock_held", typ)
	assert.Equal(t, "lock_held", code)
}
