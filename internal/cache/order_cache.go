package cache

import (
	"strings"
	"time"

	"github.com/smallbiznis/salestax/internal/clock"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
)

const defaultOrderTTL = time.Minute

// OrderCache stores freshly taxed orders keyed by their change fingerprint.
type OrderCache interface {
	Get(fingerprint string) (*orderdomain.Order, bool)
	Set(fingerprint string, order *orderdomain.Order)
}

type orderCache struct {
	orders Cache[string, *orderdomain.Order]
	ttl    time.Duration
}

// NewOrderCache returns an in-memory cache for taxed orders. A non-positive ttl
// falls back to one minute.
func NewOrderCache(ttl time.Duration, c clock.Clock) OrderCache {
	if ttl <= 0 {
		ttl = defaultOrderTTL
	}
	return &orderCache{
		orders: NewTTLCache[string, *orderdomain.Order](WithClock(c)),
		ttl:    ttl,
	}
}

func (c *orderCache) Get(fingerprint string) (*orderdomain.Order, bool) {
	return c.orders.Get(cacheKey(fingerprint))
}

func (c *orderCache) Set(fingerprint string, order *orderdomain.Order) {
	if order == nil {
		return
	}
	c.orders.Set(cacheKey(fingerprint), order, c.ttl)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
