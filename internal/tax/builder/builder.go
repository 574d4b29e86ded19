// Package builder turns an order snapshot into a provider tax request.
package builder

import (
	"strconv"

	"github.com/smallbiznis/salestax/internal/avatax"
	"github.com/smallbiznis/salestax/internal/clock"
	"github.com/smallbiznis/salestax/internal/config"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
	"github.com/smallbiznis/salestax/internal/tax/matcher"
	"go.uber.org/fx"
)

const (
	shipToAddressCode = "1"
	maxDescription    = 100
	docDateLayout     = "2006-01-02"
)

// Numbering selects how request lines are numbered.
type Numbering int

const (
	// NumberByPosition numbers selected items 1..N.
	NumberByPosition Numbering = iota
	// NumberByLineItemID uses each line item's id.
	NumberByLineItemID
)

// Request is a provider request together with the matcher that will
// reconcile its response.
type Request struct {
	Tax     *avatax.GetTaxRequest
	Matcher *matcher.Matcher
}

// Empty reports whether no line item was selected. Callers skip the provider
// call and treat the tax as zero.
func (r *Request) Empty() bool {
	return r == nil || r.Tax == nil || len(r.Tax.Lines) == 0
}

type Params struct {
	fx.In

	Clock    clock.Clock
	Settings *config.AvataxConfigHolder
}

type Builder struct {
	clock    clock.Clock
	settings *config.AvataxConfigHolder
}

func New(p Params) *Builder {
	return &Builder{clock: p.Clock, settings: p.Settings}
}

// Build prepares a quote for the items cc selects, numbered by position.
func (b *Builder) Build(order *orderdomain.Order, cc taxdomain.ComputationContext) (*Request, error) {
	if err := taxdomain.ValidateContext(cc); err != nil {
		return nil, err
	}
	return b.build(order, cc.DocType(), cc.SelectLineItems(order), NumberByPosition)
}

// BuildInvoice prepares an uncommitted sales invoice covering every line
// item, numbered by line item id.
func (b *Builder) BuildInvoice(order *orderdomain.Order) (*Request, error) {
	cc := taxdomain.InvoiceContext{}
	return b.build(order, cc.DocType(), cc.SelectLineItems(order), NumberByLineItemID)
}

func (b *Builder) build(order *orderdomain.Order, docType taxdomain.DocType, items []*orderdomain.LineItem, numbering Numbering) (*Request, error) {
	if order == nil {
		return nil, taxdomain.ErrOrderNotFound
	}

	promotions := order.PromotionAdjustmentTotal()
	discounted := promotions.IsPositive()

	req := &avatax.GetTaxRequest{
		CustomerCode: order.Email,
		DocDate:      b.clock.Now().Format(docDateLayout),
		DocType:      string(docType),
		CompanyCode:  b.settings.Get().CompanyCode,
		DocCode:      order.Number,
		Discount:     promotions.Round(2),
		Commit:       false,
		Addresses:    shipTo(order.ShipAddress),
		Lines:        make([]avatax.Line, 0, len(items)),
	}

	m := matcher.New()
	out := &Request{Tax: req, Matcher: m}
	if len(items) == 0 {
		return out, nil
	}

	for i, item := range items {
		lineNumber := int64(i + 1)
		if numbering == NumberByLineItemID {
			lineNumber = item.ID.Int64()
		}
		req.Lines = append(req.Lines, avatax.Line{
			No:              strconv.FormatInt(lineNumber, 10),
			ItemCode:        item.SKU,
			Qty:             item.Quantity,
			Amount:          item.DiscountedAmount().Round(2),
			OriginCode:      shipToAddressCode,
			DestinationCode: shipToAddressCode,
			Description:     truncate(item.Description, maxDescription),
			Discounted:      discounted,
		})
	}

	// Lines are registered after the slice stops growing so the pointers stay valid.
	for i, item := range items {
		lineNumber, _ := strconv.ParseInt(req.Lines[i].No, 10, 64)
		if err := m.Add(lineNumber, item, &req.Lines[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func shipTo(addr *orderdomain.Address) []avatax.Address {
	if addr == nil {
		return nil
	}
	return []avatax.Address{{
		AddressCode: shipToAddressCode,
		Line1:       addr.Address1,
		Line2:       addr.Address2,
		City:        addr.City,
		Region:      addr.StateCode,
		Country:     addr.CountryCode,
		PostalCode:  addr.Zipcode,
	}}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
