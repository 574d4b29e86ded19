package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	salesinvoicedomain "github.com/smallbiznis/salestax/internal/salesinvoice/domain"
)

type salesInvoiceResponse struct {
	ID                  string         `json:"id"`
	OrderID             string         `json:"order_id"`
	State               string         `json:"state"`
	DocType             string         `json:"doc_type"`
	DocCode             string         `json:"doc_code"`
	DocDate             string         `json:"doc_date"`
	TransactionID       string         `json:"transaction_id,omitempty"`
	DocID               string         `json:"doc_id,omitempty"`
	PreTaxTotal         string         `json:"pre_tax_total"`
	AdditionalTaxTotal  string         `json:"additional_tax_total"`
	CommittedAt         *time.Time     `json:"committed_at,omitempty"`
	CanceledAt          *time.Time     `json:"canceled_at,omitempty"`
	CancelTransactionID *string        `json:"cancel_transaction_id,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func newSalesInvoiceResponse(inv *salesinvoicedomain.SalesInvoice) salesInvoiceResponse {
	return salesInvoiceResponse{
		ID:                  inv.ID.String(),
		OrderID:             inv.OrderID.String(),
		State:               string(inv.State()),
		DocType:             inv.DocType,
		DocCode:             inv.DocCode,
		DocDate:             inv.DocDate,
		TransactionID:       inv.TransactionID,
		DocID:               inv.DocID,
		PreTaxTotal:         inv.PreTaxTotal.StringFixed(2),
		AdditionalTaxTotal:  inv.AdditionalTaxTotal.StringFixed(2),
		CommittedAt:         inv.CommittedAt,
		CanceledAt:          inv.CanceledAt,
		CancelTransactionID: inv.CancelTransactionID,
		Metadata:            inv.Metadata,
		CreatedAt:           inv.CreatedAt,
		UpdatedAt:           inv.UpdatedAt,
	}
}

func (s *Server) GetSalesInvoice(c *gin.Context) {
	s.respondSalesInvoice(c, s.invoices.Get)
}

// GenerateSalesInvoice answers 204 when the order is not taxable.
func (s *Server) GenerateSalesInvoice(c *gin.Context) {
	s.respondSalesInvoice(c, s.invoices.Generate)
}

func (s *Server) CommitSalesInvoice(c *gin.Context) {
	s.respondSalesInvoice(c, s.invoices.Commit)
}

func (s *Server) CancelSalesInvoice(c *gin.Context) {
	s.respondSalesInvoice(c, s.invoices.Cancel)
}

func (s *Server) respondSalesInvoice(c *gin.Context, op func(ctx context.Context, orderID snowflake.ID) (*salesinvoicedomain.SalesInvoice, error)) {
	c.Set("doc_type", "SalesInvoice")

	inv, err := op(c.Request.Context(), orderIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if inv == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSalesInvoiceResponse(inv)})
}
