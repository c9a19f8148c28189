package bootstrap

import (
	"context"
	"errors"
	"strings"

	"github.com/railzwaylabs/pricing/internal/migration"
	"gorm.io/gorm"
)

var ErrBootstrapStateNotFound = errors.New("system bootstrap state not found")

func loadSystemBootstrapState(ctx context.Context, db *gorm.DB) (*migration.SystemBootstrapState, error) {
	if db == nil {
		return nil, errors.New("bootstrap state requires database handle")
	}

	var state migration.SystemBootstrapState
	result := db.WithContext(ctx).
		Model(&migration.SystemBootstrapState{}).
		Where("id = ?", true).
		Limit(1).
		Find(&state)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrBootstrapStateNotFound
	}

	state.Status = strings.ToLower(strings.TrimSpace(state.Status))
	state.SchemaVersion = strings.TrimSpace(state.SchemaVersion)
	if state.Checksum != nil {
		trimmed := strings.TrimSpace(*state.Checksum)
		state.Checksum = &trimmed
	}
	return &state, nil
}
