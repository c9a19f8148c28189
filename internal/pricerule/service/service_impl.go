package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/config"
	"github.com/railzwaylabs/pricing/internal/metrics"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
	"github.com/railzwaylabs/pricing/pkg/db/pagination"
	"github.com/railzwaylabs/pricing/pkg/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    ruledomain.Repository
	Metrics *metrics.Metrics      `optional:"true"`
}

type Service struct {
	db                *gorm.DB
	log               *zap.Logger
	genID             *snowflake.Node
	clock             clock.Clock
	repo              ruledomain.Repository
	metrics           *metrics.Metrics
	defaultEntityType string
}

func New(p Params) ruledomain.Service {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	entityType := p.Config.Pricing.DefaultEntityType
	if entityType == "" {
		entityType = "variant"
	}
	return &Service{
		db:                p.DB,
		log:               p.Log.Named("pricerule.service"),
		genID:             p.GenID,
		clock:             p.Clock,
		repo:              p.Repo,
		metrics:           m,
		defaultEntityType: entityType,
	}
}

func (s *Service) ApplicableRules(ctx context.Context, q ruledomain.Query) ([]ruledomain.PriceRule, error) {
	byEntity, err := s.ApplicableRulesFor(ctx, q, []string{q.EntityID})
	if err != nil {
		return nil, err
	}
	return byEntity[q.EntityID], nil
}

// ApplicableRulesFor evaluates q once for several entities of the same type.
// It reads the candidate rules once and, when q names a customer, counts
// their usage with one grouped query. Conditions are evaluated per entity.
func (s *Service) ApplicableRulesFor(ctx context.Context, q ruledomain.Query, entityIDs []string) (map[string][]ruledomain.PriceRule, error) {
	at := q.At
	if at.IsZero() {
		at = s.clock.Now(ctx)
	}
	entityType := strings.TrimSpace(q.EntityType)
	if entityType == "" {
		entityType = s.defaultEntityType
	}

	candidates, err := s.repo.ListCandidates(ctx, s.db, entityType, at)
	if err != nil {
		return nil, err
	}

	rules := make([]ruledomain.PriceRule, 0, len(candidates))
	var limited []snowflake.ID
	for _, rule := range candidates {
		if !rule.ValidAt(at) {
			continue
		}
		if err := rule.CheckDefinition(); err != nil {
			s.log.Warn("ignoring price rule with invalid definition",
				zap.String("price_rule_id", rule.ID.String()),
				zap.Error(err),
			)
			s.metrics.RuleSkips.WithLabelValues(string(ruledomain.SkipInvalidDefinition)).Inc()
			continue
		}
		if rule.UsageLimitPerCustomer != nil {
			limited = append(limited, rule.ID)
		}
		rules = append(rules, rule)
	}

	if q.CustomerID != nil && len(limited) > 0 {
		uses, err := s.repo.CountCustomerUsage(ctx, s.db, limited, *q.CustomerID)
		if err != nil {
			return nil, err
		}
		kept := rules[:0]
		for _, rule := range rules {
			if rule.UsageLimitPerCustomer != nil && uses[rule.ID] >= *rule.UsageLimitPerCustomer {
				continue
			}
			kept = append(kept, rule)
		}
		rules = kept
	}

	out := make(map[string][]ruledomain.PriceRule, len(entityIDs))
	for _, entityID := range entityIDs {
		facts, ok := q.EntityFacts[entityID]
		if !ok {
			facts = q.Facts
		}
		matched := make([]ruledomain.PriceRule, 0, len(rules))
		for _, rule := range rules {
			if rule.Targets(entityID) && rule.Conditions.Data().Evaluate(facts) {
				matched = append(matched, rule)
			}
		}
		out[entityID] = matched
	}
	return out, nil
}

// Apply folds rules over price in priority order. Rules that are no longer
// valid at at are skipped; a rule with StopFurtherRules ends the chain.
func (s *Service) Apply(ctx context.Context, price decimal.Decimal, rules []ruledomain.PriceRule, at time.Time) ruledomain.Result {
	if at.IsZero() {
		at = s.clock.Now(ctx)
	}

	ordered := make([]ruledomain.PriceRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	result := ruledomain.Result{
		Original: price,
		Final:    price,
		Applied:  []ruledomain.Step{},
		Skipped:  []ruledomain.Skip{},
	}
	for i := range ordered {
		rule := &ordered[i]

		reason := rule.InvalidAt(at)
		if reason == "" && rule.CheckDefinition() != nil {
			reason = ruledomain.SkipInvalidDefinition
		}
		if reason != "" {
			s.log.Warn("skipping price rule",
				zap.String("price_rule_id", rule.ID.String()),
				zap.String("reason", string(reason)),
			)
			s.metrics.RuleSkips.WithLabelValues(string(reason)).Inc()
			result.Skipped = append(result.Skipped, ruledomain.Skip{RuleID: rule.ID, Reason: reason})
			continue
		}

		before := result.Final
		result.Final = rule.Adjust(before)
		result.Applied = append(result.Applied, ruledomain.Step{
			RuleID: rule.ID,
			Type:   rule.DiscountType,
			Before: before,
			After:  result.Final,
		})
		s.metrics.RulesApplied.Inc()

		if rule.StopFurtherRules {
			id := rule.ID
			result.StoppedBy = &id
			break
		}
	}
	return result
}

func (s *Service) RecordUsage(ctx context.Context, tx *gorm.DB, req ruledomain.RecordUsageRequest) (*ruledomain.PriceRuleUsage, error) {
	if err := validation.Struct(req); err != nil {
		if details, ok := validation.Details(err); ok {
			if _, bad := details["OrderID"]; bad {
				return nil, fmt.Errorf("%w: %w", ruledomain.ErrInvalidOrderID, err)
			}
		}
		return nil, fmt.Errorf("%w: %w", ruledomain.ErrInvalidRequest, err)
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return nil, ruledomain.ErrInvalidOrderID
	}
	if tx == nil {
		var usage *ruledomain.PriceRuleUsage
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			usage, err = s.recordUsage(ctx, tx, req, orderID)
			return err
		})
		return usage, err
	}
	return s.recordUsage(ctx, tx, req, orderID)
}

func (s *Service) recordUsage(ctx context.Context, tx *gorm.DB, req ruledomain.RecordUsageRequest, orderID uuid.UUID) (*ruledomain.PriceRuleUsage, error) {
	// The row lock serializes concurrent checkouts of the same rule so the
	// per-customer count below cannot go stale before the ledger insert.
	rule, err := s.repo.LockByID(ctx, tx, req.PriceRuleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ruledomain.ErrNotFound
	}

	if req.CustomerID != nil && rule.UsageLimitPerCustomer != nil {
		uses, err := s.repo.CountCustomerUsage(ctx, tx, []snowflake.ID{rule.ID}, *req.CustomerID)
		if err != nil {
			return nil, err
		}
		if uses[rule.ID] >= *rule.UsageLimitPerCustomer {
			return nil, ruledomain.ErrUsageLimitReached
		}
	}

	ok, err := s.repo.IncrementUsage(ctx, tx, rule.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ruledomain.ErrUsageLimitReached
	}

	usage := &ruledomain.PriceRuleUsage{
		ID:             s.genID.Generate(),
		PriceRuleID:    rule.ID,
		CustomerID:     req.CustomerID,
		OrderID:        orderID.String(),
		DiscountAmount: req.DiscountAmount,
		Currency:       strings.ToUpper(req.Currency),
		CreatedAt:      s.clock.Now(ctx),
	}
	if err := s.repo.InsertUsage(ctx, tx, usage); err != nil {
		return nil, err
	}
	return usage, nil
}

func (s *Service) Create(ctx context.Context, req ruledomain.CreateRequest) (*ruledomain.PriceRule, error) {
	if err := validation.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ruledomain.ErrInvalidRequest, err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ruledomain.ErrInvalidName
	}
	entityType := strings.ToLower(strings.TrimSpace(req.EntityType))
	if entityType == "" {
		return nil, ruledomain.ErrInvalidEntityType
	}

	value, err := decimal.NewFromString(strings.TrimSpace(req.DiscountValue))
	if err != nil {
		return nil, ruledomain.ErrInvalidDiscountValue
	}
	if req.StartsAt != nil && req.EndsAt != nil && req.EndsAt.Before(*req.StartsAt) {
		return nil, ruledomain.ErrInvalidWindow
	}

	var conditions ruledomain.Condition
	if req.Conditions != nil {
		conditions = *req.Conditions
	}

	now := s.clock.Now(ctx)
	rule := &ruledomain.PriceRule{
		ID:                    s.genID.Generate(),
		Name:                  name,
		IsActive:              true,
		Priority:              req.Priority,
		EntityType:            entityType,
		EntityIDs:             datatypes.JSONSlice[string](trimAll(req.EntityIDs)),
		Conditions:            datatypes.NewJSONType(conditions),
		DiscountType:          ruledomain.DiscountType(req.DiscountType),
		DiscountValue:         value,
		StopFurtherRules:      req.StopFurtherRules,
		StartsAt:              utcPtr(req.StartsAt),
		EndsAt:                utcPtr(req.EndsAt),
		UsageLimit:            req.UsageLimit,
		UsageLimitPerCustomer: req.UsageLimitPerCustomer,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := rule.CheckDefinition(); err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, s.db, rule); err != nil {
		return nil, err
	}
	s.log.Info("price rule created",
		zap.String("price_rule_id", rule.ID.String()),
		zap.String("entity_type", rule.EntityType),
		zap.String("discount_type", string(rule.DiscountType)),
		zap.Int("priority", rule.Priority),
	)
	return rule, nil
}

func (s *Service) Get(ctx context.Context, id string) (*ruledomain.PriceRule, error) {
	ruleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, ruledomain.ErrNotFound
	}
	rule, err := s.repo.FindByID(ctx, s.db, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ruledomain.ErrNotFound
	}
	return rule, nil
}

func (s *Service) List(ctx context.Context, req ruledomain.ListRequest) (ruledomain.ListResponse, error) {
	opts := ruledomain.ListOptions{
		EntityType: strings.ToLower(strings.TrimSpace(req.EntityType)),
		ActiveOnly: req.ActiveOnly,
	}

	page := req.Pagination.Normalize()
	items, err := s.repo.List(ctx, s.db, opts, page)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return ruledomain.ListResponse{}, fmt.Errorf("%w: %w", ruledomain.ErrInvalidRequest, err)
		}
		return ruledomain.ListResponse{}, err
	}

	items, info := pagination.BuildCursorPageInfo(items, page.PageSize, func(item *ruledomain.PriceRule) pagination.Cursor {
		return pagination.Cursor{ID: int64(item.ID), CreatedAt: item.CreatedAt}
	})

	out := make([]ruledomain.PriceRule, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return ruledomain.ListResponse{Items: out, PageInfo: info}, nil
}

func (s *Service) Deactivate(ctx context.Context, id string) (*ruledomain.PriceRule, error) {
	ruleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, ruledomain.ErrNotFound
	}

	var rule *ruledomain.PriceRule
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByID(ctx, tx, ruleID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ruledomain.ErrNotFound
		}
		now := s.clock.Now(ctx)
		ok, err := s.repo.Deactivate(ctx, tx, ruleID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ruledomain.ErrAlreadyInactive
		}
		existing.IsActive = false
		existing.UpdatedAt = now
		rule = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("price rule deactivated", zap.String("price_rule_id", rule.ID.String()))
	return rule, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
