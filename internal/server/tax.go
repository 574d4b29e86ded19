package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
)

type computeOrderTaxRequest struct {
	TaxRateID string `json:"tax_rate_id"`
	DocType   string `json:"doc_type"`
}

type computeLineItemTaxRequest struct {
	TaxRateID string `json:"tax_rate_id"`
}

func (s *Server) ComputeOrderTax(c *gin.Context) {
	var req computeOrderTaxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	docType, err := parseDocType(req.DocType)
	if err != nil {
		AbortWithError(c, newValidationError("doc_type", "invalid_doc_type", "invalid doc_type"))
		return
	}
	c.Set("doc_type", string(docType))

	ctx := c.Request.Context()
	cc, err := s.computationContext(ctx, docType, req.TaxRateID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orderID := orderIDFromContext(c)
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if order == nil {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}

	total, err := s.computer.ComputeOrder(ctx, order, cc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":  orderID.String(),
		"doc_type":  string(docType),
		"total_tax": total.StringFixed(2),
	})
}

func (s *Server) ComputeLineItemTax(c *gin.Context) {
	var req computeLineItemTaxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lineItemID, err := parseSnowflakeID(c.Param("line_item_id"))
	if err != nil {
		AbortWithError(c, newValidationError("line_item_id", "invalid_line_item_id", "invalid line_item_id"))
		return
	}
	c.Set("doc_type", string(taxdomain.DocTypeSalesOrder))

	ctx := c.Request.Context()
	cc, err := s.computationContext(ctx, taxdomain.DocTypeSalesOrder, req.TaxRateID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.orders.FindLineItem(ctx, lineItemID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if item == nil || item.OrderID != orderIDFromContext(c) {
		AbortWithError(c, orderdomain.ErrLineItemNotFound)
		return
	}

	amount, err := s.computer.ComputeLineItem(ctx, item, cc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"line_item_id":         item.ID.String(),
		"additional_tax_total": amount.StringFixed(2),
	})
}

// computationContext resolves the request into a rate or invoice context. A
// sales order quote needs the rate whose category selects the line items.
func (s *Server) computationContext(ctx context.Context, docType taxdomain.DocType, rawRateID string) (taxdomain.ComputationContext, error) {
	if docType == taxdomain.DocTypeSalesInvoice {
		return taxdomain.InvoiceContext{}, nil
	}

	rateID, err := parseOptionalSnowflakeID(rawRateID)
	if err != nil {
		return nil, newValidationError("tax_rate_id", "invalid_tax_rate_id", "invalid tax_rate_id")
	}
	if rateID == nil {
		return nil, newValidationError("tax_rate_id", "required", "tax_rate_id is required")
	}

	rate, err := s.orders.FindTaxRate(ctx, *rateID)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, orderdomain.ErrTaxRateNotFound
	}
	return taxdomain.RateContext{Rate: rate}, nil
}
