package domain

import (
	"context"
	"time"

	"github.com/railzwaylabs/pricing/pkg/db/pagination"
)

type CreateRequest struct {
	VariantID       string         `json:"variant_id" validate:"required,numeric"`
	MarketID        string         `json:"market_id" validate:"omitempty,numeric"`
	SiteID          string         `json:"site_id" validate:"omitempty,numeric"`
	ChannelID       string         `json:"channel_id" validate:"omitempty,numeric"`
	PriceListID     string         `json:"price_list_id" validate:"omitempty,numeric"`
	Currency        string         `json:"currency" validate:"required,len=3,alpha"`
	Amount          int64          `json:"amount" validate:"gte=0"`
	CompareAtAmount *int64         `json:"compare_at_amount" validate:"omitempty,gte=0"`
	CostAmount      *int64         `json:"cost_amount" validate:"omitempty,gte=0"`
	TaxIncluded     bool           `json:"tax_included"`
	TaxRate         *string        `json:"tax_rate"`
	MinQuantity     int64          `json:"min_quantity" validate:"gte=0"`
	MaxQuantity     *int64         `json:"max_quantity" validate:"omitempty,gte=1"`
	StartsAt        *time.Time     `json:"starts_at"`
	EndsAt          *time.Time     `json:"ends_at"`
	Metadata        map[string]any `json:"metadata"`
}

type ListRequest struct {
	VariantID  string `form:"variant_id"`
	MarketID   string `form:"market_id"`
	Currency   string `form:"currency"`
	ActiveOnly bool   `form:"active_only"`
	pagination.Pagination
}

type ListResponse struct {
	Items    []PriceRecord       `json:"items"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*PriceRecord, error)
	Get(ctx context.Context, id string) (*PriceRecord, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Retire(ctx context.Context, id string) (*PriceRecord, error)
}

// Invalidator drops cached resolutions that depend on the given tags.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string) error
}
