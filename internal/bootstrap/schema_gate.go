package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/railzwaylabs/pricing/internal/migration"
	"gorm.io/gorm"
)

var (
	ErrBootstrapStateInactive = errors.New("system bootstrap state is not active")
	ErrSchemaVersionMismatch  = errors.New("schema version mismatch")
	ErrSchemaChecksumMismatch = errors.New("schema checksum mismatch")
)

// SchemaGate refuses to serve prices from a database whose schema was not
// migrated by this build.
type SchemaGate interface {
	MustBeActive(ctx context.Context) error
}

type schemaGate struct {
	db       *gorm.DB
	manifest migration.Manifest
}

func NewSchemaGate(db *gorm.DB) (SchemaGate, error) {
	if db == nil {
		return nil, errors.New("schema gate requires database handle")
	}
	m, err := migration.CurrentManifest()
	if err != nil {
		return nil, err
	}
	return &schemaGate{db: db, manifest: m}, nil
}

func (g *schemaGate) MustBeActive(ctx context.Context) error {
	state, err := loadSystemBootstrapState(ctx, g.db)
	if err != nil {
		return err
	}

	if state.Status != migration.StatusActive {
		return fmt.Errorf("%w: status=%s", ErrBootstrapStateInactive, state.Status)
	}
	if want := g.manifest.VersionString(); state.SchemaVersion != want {
		return fmt.Errorf("%w: database=%s binary=%s", ErrSchemaVersionMismatch, state.SchemaVersion, want)
	}
	// Rows written before checksums were recorded carry none.
	if state.Checksum != nil && *state.Checksum != "" && *state.Checksum != g.manifest.Checksum {
		return fmt.Errorf("%w: database=%s binary=%s", ErrSchemaChecksumMismatch, *state.Checksum, g.manifest.Checksum)
	}
	return nil
}
