package bootstrap

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/pricing/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestSchemaGate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	ctx := context.Background()

	gate, err := NewSchemaGate(db)
	require.NoError(t, err)

	require.NoError(t, migration.AutoMigrate(ctx, db))
	assert.ErrorIs(t, gate.MustBeActive(ctx), ErrBootstrapStateNotFound)

	require.NoError(t, migration.Run(ctx, db, zap.NewNop()))
	assert.NoError(t, gate.MustBeActive(ctx))

	require.NoError(t, db.Model(&migration.SystemBootstrapState{}).Where("id = ?", true).Update("schema_version", "0").Error)
	assert.ErrorIs(t, gate.MustBeActive(ctx), ErrSchemaVersionMismatch)

	require.NoError(t, db.Model(&migration.SystemBootstrapState{}).Where("id = ?", true).Update("status", migration.StatusInitializing).Error)
	assert.ErrorIs(t, gate.MustBeActive(ctx), ErrBootstrapStateInactive)
}

type gateFunc func(ctx context.Context) error

func (f gateFunc) MustBeActive(ctx context.Context) error { return f(ctx) }

func TestEnforceSchemaGate(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	EnforceSchemaGate(lc, gateFunc(func(context.Context) error { return ErrBootstrapStateNotFound }), zap.NewNop())
	err := lc.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBootstrapStateNotFound)
	assert.Contains(t, err.Error(), "pricing migrate")

	lc = fxtest.NewLifecycle(t)
	EnforceSchemaGate(lc, gateFunc(func(context.Context) error { return nil }), zap.NewNop())
	require.NoError(t, lc.Start(context.Background()))
	require.NoError(t, lc.Stop(context.Background()))
}

func TestSchemaGateChecksumMismatch(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, migration.Run(ctx, db, zap.NewNop()))

	gate, err := NewSchemaGate(db)
	require.NoError(t, err)

	require.NoError(t, db.Model(&migration.SystemBootstrapState{}).Where("id = ?", true).Update("checksum", "deadbeef").Error)
	assert.ErrorIs(t, gate.MustBeActive(ctx), ErrSchemaChecksumMismatch)

	require.NoError(t, db.Model(&migration.SystemBootstrapState{}).Where("id = ?", true).Update("checksum", nil).Error)
	assert.NoError(t, gate.MustBeActive(ctx))
}
