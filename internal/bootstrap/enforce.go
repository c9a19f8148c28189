package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// EnforceSchemaGate stops serve and scheduler processes from starting
// against an unmigrated database. The error names the command that fixes it.
func EnforceSchemaGate(lc fx.Lifecycle, gate SchemaGate, log *zap.Logger) {
	log = log.Named("bootstrap")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gate.MustBeActive(ctx); err != nil {
				log.Error("pricing schema is not ready", zap.Error(err))
				return fmt.Errorf("schema gate: %w (run `pricing migrate`)", err)
			}
			log.Debug("pricing schema is active")
			return nil
		},
	})
}
