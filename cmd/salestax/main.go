package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/salestax/internal/clock"
	"github.com/smallbiznis/salestax/internal/config"
	"github.com/smallbiznis/salestax/internal/migration"
	"github.com/smallbiznis/salestax/internal/observability"
	"github.com/smallbiznis/salestax/internal/scheduler"
	"github.com/smallbiznis/salestax/internal/server"
	"github.com/smallbiznis/salestax/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Tax, sales invoices and the HTTP surface
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

// RegisterSnowflake reads the node id from SNOWFLAKE_NODE so replicas do not
// collide. It defaults to 1.
func RegisterSnowflake() *snowflake.Node {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		panic(err)
	}
	return node
}
