package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PriceRecord scopes an amount for one variant to an optional combination of
// market, site, channel and price list, a currency, a quantity range and a
// validity window. Records are retired, never deleted.
type PriceRecord struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	VariantID       snowflake.ID      `gorm:"not null;index:idx_price_records_lookup,priority:1" json:"variant_id"`
	MarketID        *snowflake.ID     `json:"market_id,omitempty"`
	SiteID          *snowflake.ID     `json:"site_id,omitempty"`
	ChannelID       *snowflake.ID     `json:"channel_id,omitempty"`
	PriceListID     *snowflake.ID     `json:"price_list_id,omitempty"`
	Currency        string            `gorm:"type:text;not null;index:idx_price_records_lookup,priority:2" json:"currency"`
	Amount          int64             `gorm:"not null" json:"amount"`
	CompareAtAmount *int64            `json:"compare_at_amount,omitempty"`
	CostAmount      *int64            `json:"cost_amount,omitempty"`
	TaxIncluded     bool              `gorm:"not null;default:false" json:"tax_included"`
	TaxRate         *decimal.Decimal  `gorm:"type:numeric" json:"tax_rate,omitempty"`
	MinQuantity     int64             `gorm:"not null;default:1" json:"min_quantity"`
	MaxQuantity     *int64            `json:"max_quantity,omitempty"`
	StartsAt        *time.Time        `json:"starts_at,omitempty"`
	EndsAt          *time.Time        `json:"ends_at,omitempty"`
	IsActive        bool              `gorm:"not null;index:idx_price_records_lookup,priority:3" json:"is_active"`
	RetiredAt       *time.Time        `json:"retired_at,omitempty"`
	Metadata        datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null" json:"updated_at"`
}

func (PriceRecord) TableName() string { return "price_records" }

// EligibleAt reports whether the record may be used at now for qty units.
// Open window bounds and a missing max quantity are unbounded.
func (p *PriceRecord) EligibleAt(now time.Time, qty int64) bool {
	if p == nil || !p.IsActive {
		return false
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return false
	}
	if qty < p.MinQuantity {
		return false
	}
	if p.MaxQuantity != nil && qty > *p.MaxQuantity {
		return false
	}
	return true
}

// Scope is the set of dimension ids a lookup is made for. A nil id means the
// dimension is absent from the request.
type Scope struct {
	MarketID    *snowflake.ID
	SiteID      *snowflake.ID
	ChannelID   *snowflake.ID
	PriceListID *snowflake.ID
}

// Matches reports whether every bound dimension of the record equals the
// corresponding dimension of s. Unbound dimensions match anything.
func (p *PriceRecord) Matches(s Scope) bool {
	return dimensionMatches(p.MarketID, s.MarketID) &&
		dimensionMatches(p.SiteID, s.SiteID) &&
		dimensionMatches(p.ChannelID, s.ChannelID) &&
		dimensionMatches(p.PriceListID, s.PriceListID)
}

func dimensionMatches(bound, requested *snowflake.ID) bool {
	if bound == nil {
		return true
	}
	return requested != nil && *bound == *requested
}

// Bound dimension weights used for specificity ranking.
const (
	WeightMarket    = 1
	WeightSite      = 2
	WeightChannel   = 4
	WeightPriceList = 8
)

// Specificity scores how narrowly the record is scoped.
func (p *PriceRecord) Specificity() int {
	score := 0
	if p.ChannelID != nil {
		score += WeightChannel
	}
	if p.SiteID != nil {
		score += WeightSite
	}
	if p.MarketID != nil {
		score += WeightMarket
	}
	if p.PriceListID != nil {
		score += WeightPriceList
	}
	return score
}

// QuantitySpan is the width of the quantity window; ok is false when the
// window has no upper bound.
func (p *PriceRecord) QuantitySpan() (span int64, ok bool) {
	if p.MaxQuantity == nil {
		return 0, false
	}
	return *p.MaxQuantity - p.MinQuantity, true
}
