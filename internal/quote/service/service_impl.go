package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/internal/currency"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
	"github.com/railzwaylabs/pricing/internal/pricingcontext"
	quotedomain "github.com/railzwaylabs/pricing/internal/quote/domain"
	resolutiondomain "github.com/railzwaylabs/pricing/internal/resolution/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Resolver resolutiondomain.Resolver
	Rules    ruledomain.Service
}

type Service struct {
	log      *zap.Logger
	resolver resolutiondomain.Resolver
	rules    ruledomain.Service
}

func New(p Params) quotedomain.Service {
	return &Service{
		log:      p.Log.Named("quote.service"),
		resolver: p.Resolver,
		rules:    p.Rules,
	}
}

func (s *Service) Quote(ctx context.Context, req quotedomain.Request) (*quotedomain.Quote, error) {
	record, err := s.resolver.Resolve(ctx, req.VariantID, req.Context)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, quotedomain.ErrPriceNotFound
	}

	facts := withContextFacts(req.Facts, req.Context, record)
	rules, err := s.rules.ApplicableRules(ctx, ruledomain.Query{
		EntityType: req.EntityType,
		EntityID:   req.VariantID.String(),
		CustomerID: req.CustomerID,
		Facts:      facts,
	})
	if err != nil {
		return nil, err
	}
	return s.build(ctx, req.VariantID, req.Context, record, rules), nil
}

func (s *Service) QuoteBulk(ctx context.Context, req quotedomain.BulkRequest) (map[snowflake.ID]*quotedomain.Quote, error) {
	records, err := s.resolver.ResolveBulk(ctx, req.VariantIDs, req.Context)
	if err != nil {
		return nil, err
	}

	entityIDs := make([]string, 0, len(records))
	entityFacts := make(map[string]ruledomain.Facts, len(records))
	for id, record := range records {
		if record != nil {
			entityIDs = append(entityIDs, id.String())
			entityFacts[id.String()] = withContextFacts(req.Facts, req.Context, record)
		}
	}
	out := make(map[snowflake.ID]*quotedomain.Quote, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}

	rulesByEntity, err := s.rules.ApplicableRulesFor(ctx, ruledomain.Query{
		EntityType:  req.EntityType,
		CustomerID:  req.CustomerID,
		Facts:       withContextFacts(req.Facts, req.Context, nil),
		EntityFacts: entityFacts,
	}, entityIDs)
	if err != nil {
		return nil, err
	}

	for id, record := range records {
		if record == nil {
			continue
		}
		out[id] = s.build(ctx, id, req.Context, record, rulesByEntity[id.String()])
	}
	return out, nil
}

func (s *Service) build(ctx context.Context, variantID snowflake.ID, pc pricingcontext.Context, record *recorddomain.PriceRecord, rules []ruledomain.PriceRule) *quotedomain.Quote {
	exp := int32(currency.MinorUnits(record.Currency))
	base := decimal.New(record.Amount, -exp)

	res := s.rules.Apply(ctx, base, rules, time.Time{})
	final := toMinor(res.Final, exp)

	q := &quotedomain.Quote{
		VariantID:    variantID,
		Currency:     record.Currency,
		Quantity:     pc.Quantity(),
		Record:       record,
		BaseAmount:   record.Amount,
		FinalAmount:  final,
		Discount:     record.Amount - final,
		LineTotal:    final * pc.Quantity(),
		AppliedRules: make([]snowflake.ID, 0, len(res.Applied)),
		SkippedRules: make([]snowflake.ID, 0, len(res.Skipped)),
		StoppedBy:    res.StoppedBy,
	}
	for _, step := range res.Applied {
		q.AppliedRules = append(q.AppliedRules, step.RuleID)
	}
	for _, skip := range res.Skipped {
		q.SkippedRules = append(q.SkippedRules, skip.RuleID)
	}

	if len(q.AppliedRules) > 0 {
		s.log.Debug("price rules applied",
			zap.String("variant_id", variantID.String()),
			zap.Int64("base_amount", q.BaseAmount),
			zap.Int64("final_amount", q.FinalAmount),
			zap.Int("rules", len(q.AppliedRules)),
		)
	}
	return q
}

// toMinor rounds half away from zero, which for non-negative prices is
// half-up.
func toMinor(amount decimal.Decimal, exp int32) int64 {
	return amount.Shift(exp).Round(0).IntPart()
}

func withContextFacts(f ruledomain.Facts, pc pricingcontext.Context, record *recorddomain.PriceRecord) ruledomain.Facts {
	if f.Quantity == 0 {
		f.Quantity = pc.Quantity()
	}
	if f.Currency == "" {
		f.Currency = pc.Currency()
	}
	if f.MarketID == nil {
		f.MarketID = pc.MarketID()
	}
	if f.SiteID == nil {
		f.SiteID = pc.SiteID()
	}
	if f.ChannelID == nil {
		f.ChannelID = pc.ChannelID()
	}
	if f.Subtotal.IsZero() && record != nil {
		exp := int32(currency.MinorUnits(record.Currency))
		f.Subtotal = decimal.New(record.Amount, -exp).Mul(decimal.NewFromInt(pc.Quantity()))
	}
	return f
}
