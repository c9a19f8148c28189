package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/internal/authorization"
	"github.com/railzwaylabs/pricing/internal/bootstrap"
	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/config"
	"github.com/railzwaylabs/pricing/internal/currency"
	"github.com/railzwaylabs/pricing/internal/metrics"
	"github.com/railzwaylabs/pricing/internal/migration"
	"github.com/railzwaylabs/pricing/internal/observability"
	"github.com/railzwaylabs/pricing/internal/pricerecord"
	"github.com/railzwaylabs/pricing/internal/pricerule"
	"github.com/railzwaylabs/pricing/internal/quote"
	"github.com/railzwaylabs/pricing/internal/redis"
	"github.com/railzwaylabs/pricing/internal/resolution"
	"github.com/railzwaylabs/pricing/internal/resolutioncache"
	"github.com/railzwaylabs/pricing/internal/scheduler"
	"github.com/railzwaylabs/pricing/internal/scope"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"github.com/railzwaylabs/pricing/internal/seed"
	"github.com/railzwaylabs/pricing/internal/server"
	"github.com/railzwaylabs/pricing/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "pricing",
		Short:   "Price resolution service",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newSeedCmd(), newServeCmd(), newSchedulerCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and activate schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default markets, sites and channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed()
		},
	}
}

func newServeCmd() *cobra.Command {
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pricing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe(withScheduler)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", true, "run the validity window sweeper in-process")
	return cmd
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the validity window sweeper only",
		RunE: func(cmd *cobra.Command, args []string) error {
			runScheduler()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations and seed, then start the API and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			if err := runSeed(); err != nil {
				return err
			}
			runServe(true)
			return nil
		},
	}
}

func runMigrate() error {
	return runOnce("migrate",
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)
}

func runSeed() error {
	return runOnce("seed",
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		bootstrap.Module,
		fx.Invoke(bootstrap.EnforceSchemaGate),
		scope.Module,
		fx.Invoke(seedScopes),
	)
}

// runOnce starts and stops an fx app, which is how one-shot commands run
// their OnStart hooks.
func runOnce(name string, opts ...fx.Option) error {
	app := fx.New(opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runServe(withScheduler bool) {
	opts := []fx.Option{
		coreModules(),
		authorization.Module,
		quote.Module,
		server.Module,
	}
	if withScheduler {
		opts = append(opts, scheduler.Module)
	}
	fx.New(opts...).Run()
}

func runScheduler() {
	fx.New(
		coreModules(),
		scheduler.Module,
	).Run()
}

func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		metrics.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		currency.Module,
		redis.Module,
		resolutioncache.Module,
		bootstrap.Module,
		fx.Invoke(bootstrap.EnforceSchemaGate),
		scope.Module,
		pricerecord.Module,
		pricerule.Module,
		resolution.Module,
	)
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.App.NodeID)
}

type seedParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Node      *snowflake.Node
	Repo      scopedomain.Repository
	Log       *zap.Logger
}

func seedScopes(p seedParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return seed.EnsureScopes(ctx, p.DB, p.Node, p.Repo, p.Log.Named("seed"), seed.Options{})
		},
	})
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
