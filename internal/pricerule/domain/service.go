package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Name                  string     `json:"name" validate:"required,max=200"`
	Priority              int        `json:"priority"`
	EntityType            string     `json:"entity_type" validate:"required,max=64"`
	EntityIDs             []string   `json:"entity_ids" validate:"dive,required"`
	Conditions            *Condition `json:"conditions"`
	DiscountType          string     `json:"discount_type" validate:"required,oneof=percent fixed override"`
	DiscountValue         string     `json:"discount_value" validate:"required"`
	StopFurtherRules      bool       `json:"stop_further_rules"`
	StartsAt              *time.Time `json:"starts_at"`
	EndsAt                *time.Time `json:"ends_at"`
	UsageLimit            *int64     `json:"usage_limit" validate:"omitempty,gte=1"`
	UsageLimitPerCustomer *int64     `json:"usage_limit_per_customer" validate:"omitempty,gte=1"`
}

type ListRequest struct {
	EntityType string `form:"entity_type"`
	ActiveOnly bool   `form:"active_only"`
	pagination.Pagination
}

type ListResponse struct {
	Items    []PriceRule         `json:"items"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// Query selects rules for one entity. At defaults to the clock's now.
// EntityFacts, keyed by entity id, replaces Facts for that entity when
// conditions are evaluated.
type Query struct {
	EntityType  string
	EntityID    string
	CustomerID  *snowflake.ID
	At          time.Time
	Facts       Facts
	EntityFacts map[string]Facts
}

type Step struct {
	RuleID snowflake.ID    `json:"rule_id"`
	Type   DiscountType    `json:"type"`
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
}

type Skip struct {
	RuleID snowflake.ID `json:"rule_id"`
	Reason SkipReason   `json:"reason"`
}

// Result is the outcome of folding rules over a price.
type Result struct {
	Original  decimal.Decimal `json:"original"`
	Final     decimal.Decimal `json:"final"`
	Applied   []Step          `json:"applied"`
	Skipped   []Skip          `json:"skipped"`
	StoppedBy *snowflake.ID   `json:"stopped_by,omitempty"`
}

type RecordUsageRequest struct {
	PriceRuleID    snowflake.ID
	CustomerID     *snowflake.ID
	OrderID        string        `validate:"required,uuid"`
	DiscountAmount int64         `validate:"gte=0"`
	Currency       string        `validate:"required,len=3"`
}

type Service interface {
	ApplicableRules(ctx context.Context, q Query) ([]PriceRule, error)
	ApplicableRulesFor(ctx context.Context, q Query, entityIDs []string) (map[string][]PriceRule, error)
	Apply(ctx context.Context, price decimal.Decimal, rules []PriceRule, at time.Time) Result

	// RecordUsage runs inside the caller's transaction so the ledger row and
	// usage count commit together with the order.
	RecordUsage(ctx context.Context, tx *gorm.DB, req RecordUsageRequest) (*PriceRuleUsage, error)

	Create(ctx context.Context, req CreateRequest) (*PriceRule, error)
	Get(ctx context.Context, id string) (*PriceRule, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Deactivate(ctx context.Context, id string) (*PriceRule, error)
}
