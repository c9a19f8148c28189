package domain

import (
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type DiscountType string

const (
	DiscountPercent  DiscountType = "percent"
	DiscountFixed    DiscountType = "fixed"
	DiscountOverride DiscountType = "override"
)

// PriceRule is a discount applied on top of a resolved price. Fixed and
// override values are in currency units, percent values in percent.
type PriceRule struct {
	ID                    snowflake.ID                  `gorm:"primaryKey" json:"id"`
	Name                  string                        `gorm:"type:text;not null" json:"name"`
	IsActive              bool                          `gorm:"not null;index:idx_price_rules_lookup,priority:2" json:"is_active"`
	Priority              int                           `gorm:"not null;default:0" json:"priority"`
	EntityType            string                        `gorm:"type:text;not null;index:idx_price_rules_lookup,priority:1" json:"entity_type"`
	EntityIDs             datatypes.JSONSlice[string]   `gorm:"type:json" json:"entity_ids"`
	Conditions            datatypes.JSONType[Condition] `gorm:"type:json" json:"conditions"`
	DiscountType          DiscountType                  `gorm:"type:text;not null" json:"discount_type"`
	DiscountValue         decimal.Decimal               `gorm:"type:numeric;not null" json:"discount_value"`
	StopFurtherRules      bool                          `gorm:"not null;default:false" json:"stop_further_rules"`
	StartsAt              *time.Time                    `json:"starts_at,omitempty"`
	EndsAt                *time.Time                    `json:"ends_at,omitempty"`
	UsageLimit            *int64                        `json:"usage_limit,omitempty"`
	UsageLimitPerCustomer *int64                        `json:"usage_limit_per_customer,omitempty"`
	UsageCount            int64                         `gorm:"not null;default:0" json:"usage_count"`
	CreatedAt             time.Time                     `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time                     `gorm:"not null" json:"updated_at"`
}

func (PriceRule) TableName() string { return "price_rules" }

// SkipReason explains why a rule was not applied.
type SkipReason string

const (
	SkipInactive          SkipReason = "inactive"
	SkipNotStarted        SkipReason = "not_started"
	SkipEnded             SkipReason = "ended"
	SkipUsageLimitReached SkipReason = "usage_limit_reached"
	SkipInvalidDefinition SkipReason = "invalid_definition"
)

// InvalidAt returns why the rule cannot be used at now, or "" when it can.
func (r *PriceRule) InvalidAt(now time.Time) SkipReason {
	switch {
	case !r.IsActive:
		return SkipInactive
	case r.StartsAt != nil && now.Before(*r.StartsAt):
		return SkipNotStarted
	case r.EndsAt != nil && now.After(*r.EndsAt):
		return SkipEnded
	case r.UsageLimit != nil && r.UsageCount >= *r.UsageLimit:
		return SkipUsageLimitReached
	}
	return ""
}

// ValidAt reports whether the rule is active, inside its window and below
// its global usage limit.
func (r *PriceRule) ValidAt(now time.Time) bool {
	return r.InvalidAt(now) == ""
}

// Targets reports whether the rule covers entityID. An empty EntityIDs list
// covers every entity of the rule's type.
func (r *PriceRule) Targets(entityID string) bool {
	return len(r.EntityIDs) == 0 || slices.Contains(r.EntityIDs, entityID)
}

// CheckDefinition validates the discount itself.
func (r *PriceRule) CheckDefinition() error {
	switch r.DiscountType {
	case DiscountPercent:
		if r.DiscountValue.IsNegative() || r.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return ErrInvalidDiscountValue
		}
	case DiscountFixed, DiscountOverride:
		if r.DiscountValue.IsNegative() {
			return ErrInvalidDiscountValue
		}
	default:
		return ErrInvalidDiscountType
	}
	return r.Conditions.Data().Validate()
}

var hundred = decimal.NewFromInt(100)

// Adjust applies the rule's discount to price. The result is never negative.
func (r *PriceRule) Adjust(price decimal.Decimal) decimal.Decimal {
	var out decimal.Decimal
	switch r.DiscountType {
	case DiscountPercent:
		out = price.Mul(decimal.NewFromInt(1).Sub(r.DiscountValue.Div(hundred)))
	case DiscountFixed:
		out = price.Sub(r.DiscountValue)
	case DiscountOverride:
		out = r.DiscountValue
	default:
		return price
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// PriceRuleUsage is an append-only ledger row written by the order
// subsystem when a checkout consumed a rule.
type PriceRuleUsage struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	PriceRuleID    snowflake.ID  `gorm:"not null;index:idx_price_rule_usages_customer,priority:1" json:"price_rule_id"`
	CustomerID     *snowflake.ID `gorm:"index:idx_price_rule_usages_customer,priority:2" json:"customer_id,omitempty"`
	OrderID        string        `gorm:"type:text;not null" json:"order_id"`
	DiscountAmount int64         `gorm:"not null" json:"discount_amount"`
	Currency       string        `gorm:"type:text;not null" json:"currency"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
}

func (PriceRuleUsage) TableName() string { return "price_rule_usages" }
