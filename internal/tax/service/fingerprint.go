package service

import (
	"strconv"
	"strings"
	"time"

	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
)

// fingerprint changes whenever a line item or the order itself is updated.
// Tax writes do not touch updated_at, so a computed order keeps its key.
func fingerprint(order *orderdomain.Order, cc taxdomain.ComputationContext) string {
	var b strings.Builder
	for i := range order.LineItems {
		li := &order.LineItems[i]
		b.WriteString(li.ID.String())
		b.WriteString("@")
		b.WriteString(unixMicro(li.UpdatedAt))
		b.WriteString(",")
	}
	b.WriteString(order.ID.String())
	b.WriteString("@")
	b.WriteString(unixMicro(order.UpdatedAt))

	b.WriteString("|")
	b.WriteString(string(cc.DocType()))
	if rc, ok := cc.(taxdomain.RateContext); ok && rc.Rate != nil {
		b.WriteString("|")
		b.WriteString(rc.Rate.ID.String())
	}
	return b.String()
}

func unixMicro(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}
