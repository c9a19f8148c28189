package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListOptions struct {
	VariantID  *snowflake.ID
	MarketID   *snowflake.ID
	Currency   string
	ActiveOnly bool
}

// EligibleFilter selects records that may win for the given variants. A nil
// scope id restricts the column to NULL.
type EligibleFilter struct {
	VariantIDs []snowflake.ID
	Currency   string
	Quantity   int64
	At         time.Time
	Scope      Scope
}

// WindowBoundary is a variant whose price window opened or closed.
type WindowBoundary struct {
	VariantID snowflake.ID
	Currency  string
}

//go:generate mockgen -source=repository.go -destination=../mocks/repository.go -package=mocks

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *PriceRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PriceRecord, error)
	List(ctx context.Context, db *gorm.DB, opts ListOptions, page pagination.Pagination) ([]*PriceRecord, error)
	Retire(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	// ListEligible returns every candidate record for all requested variants in
	// one query.
	ListEligible(ctx context.Context, db *gorm.DB, filter EligibleFilter) ([]PriceRecord, error)

	// ListWindowBoundaries returns variants with a starts_at in (from, to] or
	// an ends_at in [from, to). A record stays eligible at its ends_at, so an
	// end is reported only once that instant has passed.
	ListWindowBoundaries(ctx context.Context, db *gorm.DB, from, to time.Time) ([]WindowBoundary, error)
}
