package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	"github.com/railzwaylabs/pricing/internal/pricingcontext"
)

var (
	// ErrInvalidContext rejects a request before any lookup: unsupported
	// currency, quantity below one, too many variants.
	ErrInvalidContext = pricingcontext.ErrInvalidContext
	// ErrStoreUnavailable wraps any failure reading price records.
	ErrStoreUnavailable = errors.New("store_unavailable")
)

// Resolver picks the winning price record for variants. No eligible record is
// a nil result, not an error.
type Resolver interface {
	Resolve(ctx context.Context, variantID snowflake.ID, pc pricingcontext.Context) (*recorddomain.PriceRecord, error)
	ResolveBulk(ctx context.Context, variantIDs []snowflake.ID, pc pricingcontext.Context) (map[snowflake.ID]*recorddomain.PriceRecord, error)
}
