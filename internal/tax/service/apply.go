package service

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/salestax/internal/avatax"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	"github.com/smallbiznis/salestax/internal/tax/builder"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
)

// applyTaxes copies each answered response line's tax onto its line item and
// the provider total onto the order. Line items the provider did not answer
// keep their current tax. Nothing is mutated unless every answered amount
// parses.
func applyTaxes(order *orderdomain.Order, req *builder.Request, result *avatax.GetTaxResult) (decimal.Decimal, []*orderdomain.LineItem, error) {
	tuples := req.Matcher.Tuples()
	answered := make([]*orderdomain.LineItem, 0, len(tuples))
	taxes := make([]decimal.Decimal, 0, len(tuples))
	for _, t := range tuples {
		if t.ResponseLine == nil {
			continue
		}
		amount, err := t.ResponseLine.Tax.Decimal()
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("%w: line %d: %w", taxdomain.ErrInvalidAPIResponse, t.LineNumber, err)
		}
		answered = append(answered, t.LineItem)
		taxes = append(taxes, amount)
	}
	total, err := result.TotalTax.Decimal()
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("%w: total tax: %w", taxdomain.ErrInvalidAPIResponse, err)
	}

	for i, item := range answered {
		item.AdditionalTaxTotal = taxes[i]
	}
	order.AdditionalTaxTotal = total
	return total, answered, nil
}
