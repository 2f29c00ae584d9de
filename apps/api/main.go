package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paybridge/internal/callback"
	"github.com/smallbiznis/paybridge/internal/clock"
	"github.com/smallbiznis/paybridge/internal/config"
	"github.com/smallbiznis/paybridge/internal/limit"
	"github.com/smallbiznis/paybridge/internal/merchant"
	"github.com/smallbiznis/paybridge/internal/migration"
	"github.com/smallbiznis/paybridge/internal/notify"
	"github.com/smallbiznis/paybridge/internal/observability"
	"github.com/smallbiznis/paybridge/internal/order"
	"github.com/smallbiznis/paybridge/internal/provider"
	"github.com/smallbiznis/paybridge/internal/reconcile"
	"github.com/smallbiznis/paybridge/internal/server"
	"github.com/smallbiznis/paybridge/pkg/db"
	"github.com/smallbiznis/paybridge/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		merchant.Module,
		order.Module,
		limit.Module,
		provider.Module,
		notify.Module,
		reconcile.Module,
		callback.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
