package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run brings the schema to the latest embedded version and activates the
// bootstrap state. Postgres goes through the versioned SQL migrations under
// an advisory lock; mysql and sqlite, used for local runs and tests, are
// auto-migrated from the models.
func Run(ctx context.Context, conn *gorm.DB, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	m, err := CurrentManifest()
	if err != nil {
		return err
	}

	dialect := conn.Dialector.Name()
	switch dialect {
	case "postgres":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := runSQLMigrations(ctx, sqlDB, m.Version); err != nil {
			return err
		}
	default:
		if err := AutoMigrate(ctx, conn); err != nil {
			return err
		}
	}

	if err := activateSystemBootstrapState(ctx, conn, m.VersionString(), m.Checksum); err != nil {
		return err
	}
	log.Info("schema migrated",
		zap.String("dialect", dialect),
		zap.Uint("version", m.Version),
		zap.Int("files", len(m.Files)),
	)
	return nil
}

// AutoMigrate creates the pricing tables from the gorm models.
func AutoMigrate(ctx context.Context, conn *gorm.DB) error {
	err := conn.WithContext(ctx).AutoMigrate(
		&SystemBootstrapState{},
		&scopedomain.Market{},
		&scopedomain.Site{},
		&scopedomain.Channel{},
		&recorddomain.PriceRecord{},
		&ruledomain.PriceRule{},
		&ruledomain.PriceRuleUsage{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func runSQLMigrations(ctx context.Context, db *sql.DB, latestVersion uint) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	lock, err := lockSchema(ctx, db)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release(context.Background())
	}()

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if _, err := ensureNotDirty(migrator); err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}

	currentVersion, err := ensureNotDirty(migrator)
	if err != nil {
		return err
	}

	if currentVersion != latestVersion {
		return fmt.Errorf("schema version mismatch after migrate: got %d want %d", currentVersion, latestVersion)
	}
	return nil
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	if migrator == nil {
		return 0, errors.New("migrator is required")
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}
