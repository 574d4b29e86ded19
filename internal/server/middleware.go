package server

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/salestax/internal/lock"
)

const contextOrderIDKey = "order_id"

// OrderContext parses the :order_id route parameter once for every handler
// in the group.
func OrderContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseSnowflakeID(c.Param("order_id"))
		if err != nil {
			AbortWithError(c, newValidationError("order_id", "invalid_order_id", "invalid order_id"))
			return
		}
		c.Set(contextOrderIDKey, id)
		c.Next()
	}
}

// OrderLock holds the order's lock for the rest of the chain. A request that
// finds it held fails fast with lock.ErrLockHeld.
func (s *Server) OrderLock() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := orderIDFromContext(c)
		err := lock.WithLock(c.Request.Context(), s.locker, lock.OrderKey(orderID.String()), s.lockTTL(), func(ctx context.Context) error {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return nil
		})
		if err != nil {
			AbortWithError(c, err)
		}
	}
}

func orderIDFromContext(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(contextOrderIDKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}
