// @title           Pricing API
// @version         1.0
// @description     Price resolution and quoting API
// @BasePath        /v1
// @Schemes         http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/internal/authorization"
	"github.com/railzwaylabs/pricing/internal/bootstrap"
	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/config"
	"github.com/railzwaylabs/pricing/internal/currency"
	"github.com/railzwaylabs/pricing/internal/metrics"
	"github.com/railzwaylabs/pricing/internal/observability"
	"github.com/railzwaylabs/pricing/internal/pricerecord"
	"github.com/railzwaylabs/pricing/internal/pricerule"
	"github.com/railzwaylabs/pricing/internal/quote"
	"github.com/railzwaylabs/pricing/internal/redis"
	"github.com/railzwaylabs/pricing/internal/resolution"
	"github.com/railzwaylabs/pricing/internal/resolutioncache"
	"github.com/railzwaylabs/pricing/internal/scope"
	"github.com/railzwaylabs/pricing/internal/server"
	"github.com/railzwaylabs/pricing/pkg/db"
	"go.uber.org/fx"
)

// API only. Window sweeps run in apps/scheduler, which needs the redis cache
// backend to reach this process's cached resolutions.
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

		authorization.Module,
		scope.Module,
		pricerecord.Module,
		pricerule.Module,
		resolution.Module,
		quote.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.App.NodeID)
}
