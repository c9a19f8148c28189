package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/internal/bootstrap"
	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/config"
	"github.com/railzwaylabs/pricing/internal/currency"
	"github.com/railzwaylabs/pricing/internal/metrics"
	"github.com/railzwaylabs/pricing/internal/observability"
	"github.com/railzwaylabs/pricing/internal/pricerecord"
	"github.com/railzwaylabs/pricing/internal/redis"
	"github.com/railzwaylabs/pricing/internal/resolutioncache"
	"github.com/railzwaylabs/pricing/internal/scheduler"
	"github.com/railzwaylabs/pricing/internal/scope"
	"github.com/railzwaylabs/pricing/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		currency.Module,
		redis.Module,
		resolutioncache.Module,
		bootstrap.Module,
		fx.Invoke(bootstrap.EnforceSchemaGate),

		// Record repository and cache invalidator for the sweeper.
		scope.Module,
		pricerecord.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.App.NodeID)
}
