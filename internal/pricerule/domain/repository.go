package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListOptions struct {
	EntityType string
	ActiveOnly bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rule *PriceRule) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PriceRule, error)

	// LockByID is FindByID holding a row lock until db's transaction ends.
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PriceRule, error)
	List(ctx context.Context, db *gorm.DB, opts ListOptions, page pagination.Pagination) ([]*PriceRule, error)
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	// ListCandidates returns active rules of entityType whose window contains
	// at, ordered by priority desc then id asc. Entity targeting, conditions
	// and usage limits are left to the caller.
	ListCandidates(ctx context.Context, db *gorm.DB, entityType string, at time.Time) ([]PriceRule, error)

	// CountCustomerUsage counts ledger rows per rule for one customer in a
	// single grouped query.
	CountCustomerUsage(ctx context.Context, db *gorm.DB, ruleIDs []snowflake.ID, customerID snowflake.ID) (map[snowflake.ID]int64, error)

	// IncrementUsage bumps usage_count unless the global limit is reached.
	IncrementUsage(ctx context.Context, db *gorm.DB, ruleID snowflake.ID) (bool, error)
	InsertUsage(ctx context.Context, db *gorm.DB, usage *PriceRuleUsage) error
}
