package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
	"github.com/railzwaylabs/pricing/internal/pricingcontext"
)

var ErrPriceNotFound = errors.New("price_not_found")

// Request asks for the final unit price of one variant. EntityType selects
// which rules apply and defaults to the configured entity type. Facts that
// the context already carries (quantity, currency and scope ids) are filled
// in when left empty.
type Request struct {
	VariantID  snowflake.ID
	Context    pricingcontext.Context
	CustomerID *snowflake.ID
	EntityType string
	Facts      ruledomain.Facts
}

type BulkRequest struct {
	VariantIDs []snowflake.ID
	Context    pricingcontext.Context
	CustomerID *snowflake.ID
	EntityType string
	Facts      ruledomain.Facts
}

// Quote amounts are in minor units of Currency.
type Quote struct {
	VariantID    snowflake.ID              `json:"variant_id"`
	Currency     string                    `json:"currency"`
	Quantity     int64                     `json:"quantity"`
	Record       *recorddomain.PriceRecord `json:"price_record"`
	BaseAmount   int64                     `json:"base_amount"`
	FinalAmount  int64                     `json:"final_amount"`
	Discount     int64                     `json:"discount"`
	LineTotal    int64                     `json:"line_total"`
	AppliedRules []snowflake.ID            `json:"applied_rules"`
	SkippedRules []snowflake.ID            `json:"skipped_rules"`
	StoppedBy    *snowflake.ID             `json:"stopped_by,omitempty"`
}

type Service interface {
	Quote(ctx context.Context, req Request) (*Quote, error)
	// QuoteBulk omits variants without a price from the result.
	QuoteBulk(ctx context.Context, req BulkRequest) (map[snowflake.ID]*Quote, error)
}
