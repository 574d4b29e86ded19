package domain

import (
	"fmt"

	"github.com/smallbiznis/salestax/internal/avatax"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
)

// DocType is the provider document type a computation is recorded under.
type DocType string

const (
	DocTypeSalesOrder   DocType = avatax.DocTypeSalesOrder
	DocTypeSalesInvoice DocType = avatax.DocTypeSalesInvoice
)

func (d DocType) Valid() bool {
	return d == DocTypeSalesOrder || d == DocTypeSalesInvoice
}

// ComputationContext decides which document a computation produces, which
// order timestamp records success, and which line items take part.
type ComputationContext interface {
	DocType() DocType
	StatusField() orderdomain.StatusField
	SelectLineItems(o *orderdomain.Order) []*orderdomain.LineItem
}

// RateContext is used when a tax rate calculator asks for the order's tax.
// Only line items in the rate's tax category are sent.
type RateContext struct {
	Rate *orderdomain.TaxRate
}

func (RateContext) DocType() DocType { return DocTypeSalesOrder }

func (RateContext) StatusField() orderdomain.StatusField {
	return orderdomain.StatusFieldResponseAt
}

func (c RateContext) SelectLineItems(o *orderdomain.Order) []*orderdomain.LineItem {
	if o == nil || c.Rate == nil {
		return nil
	}
	out := make([]*orderdomain.LineItem, 0, len(o.LineItems))
	for i := range o.LineItems {
		if o.LineItems[i].TaxCategoryID == c.Rate.TaxCategoryID {
			out = append(out, &o.LineItems[i])
		}
	}
	return out
}

// InvoiceContext is used once an order completes. Every line item is sent.
type InvoiceContext struct{}

func (InvoiceContext) DocType() DocType { return DocTypeSalesInvoice }

func (InvoiceContext) StatusField() orderdomain.StatusField {
	return orderdomain.StatusFieldInvoiceAt
}

func (InvoiceContext) SelectLineItems(o *orderdomain.Order) []*orderdomain.LineItem {
	if o == nil {
		return nil
	}
	out := make([]*orderdomain.LineItem, 0, len(o.LineItems))
	for i := range o.LineItems {
		out = append(out, &o.LineItems[i])
	}
	return out
}

// ValidateContext rejects contexts that cannot drive a computation.
func ValidateContext(c ComputationContext) error {
	if c == nil {
		return fmt.Errorf("%w: missing context", ErrInvalidContext)
	}
	if !c.DocType().Valid() {
		return fmt.Errorf("%w: doc type %q", ErrInvalidContext, c.DocType())
	}
	if !c.StatusField().Valid() {
		return fmt.Errorf("%w: status field %q", ErrInvalidContext, c.StatusField())
	}
	if rc, ok := c.(RateContext); ok && rc.Rate == nil {
		return fmt.Errorf("%w: missing tax rate", ErrInvalidContext)
	}
	return nil
}
