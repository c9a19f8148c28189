package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/config"
	"github.com/railzwaylabs/pricing/internal/currency"
	"github.com/railzwaylabs/pricing/internal/metrics"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	"github.com/railzwaylabs/pricing/internal/pricingcontext"
	resolutiondomain "github.com/railzwaylabs/pricing/internal/resolution/domain"
	"github.com/railzwaylabs/pricing/internal/resolutioncache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Clock      clock.Clock
	Currencies *currency.Registry
	Repo       recorddomain.Repository
	Cache      *resolutioncache.Cache `optional:"true"`
	Metrics    *metrics.Metrics       `optional:"true"`
	Tracer     trace.TracerProvider   `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	currencies   *currency.Registry
	repo         recorddomain.Repository
	cache        *resolutioncache.Cache
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	keyPrefix    string
	queryTimeout time.Duration
	maxBulk      int
}

func New(p Params) resolutiondomain.Resolver {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	tp := p.Tracer
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	prefix := p.Config.Cache.KeyPrefix
	if prefix == "" {
		prefix = "price"
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("resolution.service"),
		clock:        p.Clock,
		currencies:   p.Currencies,
		repo:         p.Repo,
		cache:        p.Cache,
		metrics:      m,
		tracer:       tp.Tracer("github.com/railzwaylabs/pricing/internal/resolution"),
		keyPrefix:    prefix,
		queryTimeout: p.Config.Pricing.QueryTimeout,
		maxBulk:      p.Config.Pricing.MaxBulkVariants,
	}
}

func (s *Service) Resolve(ctx context.Context, variantID snowflake.ID, pc pricingcontext.Context) (*recorddomain.PriceRecord, error) {
	start := time.Now()
	defer func() {
		s.metrics.ResolutionDuration.WithLabelValues("resolve").Observe(time.Since(start).Seconds())
	}()

	ctx, span := s.tracer.Start(ctx, "resolution.Resolve", trace.WithAttributes(
		attribute.String("pricing.variant_id", variantID.String()),
		attribute.String("pricing.currency", pc.Currency()),
		attribute.Int64("pricing.quantity", pc.Quantity()),
	))
	defer span.End()

	if err := s.validate(pc); err != nil {
		s.metrics.Resolutions.WithLabelValues("invalid").Inc()
		return nil, err
	}

	results, err := s.resolveCached(ctx, []snowflake.ID{variantID}, pc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.Resolutions.WithLabelValues("error").Inc()
		return nil, err
	}

	record := results[variantID]
	s.countOutcome(record)
	return record, nil
}

func (s *Service) ResolveBulk(ctx context.Context, variantIDs []snowflake.ID, pc pricingcontext.Context) (map[snowflake.ID]*recorddomain.PriceRecord, error) {
	start := time.Now()
	defer func() {
		s.metrics.ResolutionDuration.WithLabelValues("resolve_bulk").Observe(time.Since(start).Seconds())
	}()

	ids := distinct(variantIDs)
	ctx, span := s.tracer.Start(ctx, "resolution.ResolveBulk", trace.WithAttributes(
		attribute.Int("pricing.variants", len(ids)),
		attribute.String("pricing.currency", pc.Currency()),
		attribute.Int64("pricing.quantity", pc.Quantity()),
	))
	defer span.End()

	if err := s.validate(pc); err != nil {
		s.metrics.Resolutions.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if s.maxBulk > 0 && len(ids) > s.maxBulk {
		s.metrics.Resolutions.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %d variants exceeds the bulk limit of %d", resolutiondomain.ErrInvalidContext, len(ids), s.maxBulk)
	}
	s.metrics.BulkSize.Observe(float64(len(ids)))

	results, err := s.resolveCached(ctx, ids, pc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.Resolutions.WithLabelValues("error").Add(float64(len(ids)))
		return nil, err
	}
	for _, id := range ids {
		s.countOutcome(results[id])
	}
	return results, nil
}

func (s *Service) validate(pc pricingcontext.Context) error {
	if pc.Quantity() < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", resolutiondomain.ErrInvalidContext)
	}
	if !s.currencies.Supported(pc.Currency()) {
		return fmt.Errorf("%w: unsupported currency %q", resolutiondomain.ErrInvalidContext, pc.Currency())
	}
	return nil
}

// resolveCached serves what it can from the cache and resolves the rest with
// a single store read. Requests pinned to a point in time skip the cache
// since keys do not carry the evaluation time.
func (s *Service) resolveCached(ctx context.Context, ids []snowflake.ID, pc pricingcontext.Context) (map[snowflake.ID]*recorddomain.PriceRecord, error) {
	if _, pinned := clock.FromContext(ctx); pinned || !s.cache.Enabled() {
		return s.resolve(ctx, ids, pc)
	}

	keys := make([]resolutioncache.Key, len(ids))
	for i, id := range ids {
		keys[i] = s.cacheKey(id, pc)
	}
	slots, values := s.cache.PeekMany(ctx, keys)

	results := make(map[snowflake.ID]*recorddomain.PriceRecord, len(ids))
	var misses []snowflake.ID
	missSlots := map[snowflake.ID]resolutioncache.Slot{}
	for i, id := range ids {
		if values[i] != nil {
			record, err := decodeRecord(values[i])
			if err == nil {
				results[id] = record
				continue
			}
			s.log.Warn("discarding undecodable cache entry", zap.String("variant_id", id.String()), zap.Error(err))
		}
		misses = append(misses, id)
		missSlots[id] = slots[i]
	}
	if len(misses) == 0 {
		return results, nil
	}

	resolved, err := s.resolve(ctx, misses, pc)
	if err != nil {
		return nil, err
	}
	for _, id := range misses {
		record := resolved[id]
		results[id] = record
		payload, err := encodeRecord(record)
		if err != nil {
			continue
		}
		s.cache.Fill(ctx, missSlots[id], payload, 0)
	}
	return results, nil
}

func (s *Service) cacheKey(variantID snowflake.ID, pc pricingcontext.Context) resolutioncache.Key {
	tags := append(pc.Tags(), pricingcontext.VariantTag(variantID))
	return resolutioncache.Key{
		Base: pc.CacheKey(s.keyPrefix) + ":v" + variantID.String(),
		Tags: tags,
	}
}

// resolve reads all candidates for ids in one query and ranks them per
// variant. Every id gets an entry; variants without a winner map to nil.
func (s *Service) resolve(ctx context.Context, ids []snowflake.ID, pc pricingcontext.Context) (map[snowflake.ID]*recorddomain.PriceRecord, error) {
	results := make(map[snowflake.ID]*recorddomain.PriceRecord, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	now := s.clock.Now(ctx)
	scope := recorddomain.Scope{
		MarketID:    pc.MarketID(),
		SiteID:      pc.SiteID(),
		ChannelID:   pc.ChannelID(),
		PriceListID: pc.PriceListID(),
	}

	queryCtx := ctx
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	candidates, err := s.repo.ListEligible(queryCtx, s.db, recorddomain.EligibleFilter{
		VariantIDs: ids,
		Currency:   pc.Currency(),
		Quantity:   pc.Quantity(),
		At:         now,
		Scope:      scope,
	})
	if err != nil {
		s.log.Error("failed to load price records",
			zap.Int("variants", len(ids)),
			zap.String("currency", pc.Currency()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", resolutiondomain.ErrStoreUnavailable, err)
	}

	byVariant := make(map[snowflake.ID][]recorddomain.PriceRecord, len(ids))
	for _, c := range candidates {
		byVariant[c.VariantID] = append(byVariant[c.VariantID], c)
	}
	for _, id := range ids {
		results[id] = resolutiondomain.Pick(byVariant[id], scope, pc.Currency(), pc.Quantity(), now)
	}
	return results, nil
}

func (s *Service) countOutcome(record *recorddomain.PriceRecord) {
	if record == nil {
		s.metrics.Resolutions.WithLabelValues("not_found").Inc()
		return
	}
	s.metrics.Resolutions.WithLabelValues("found").Inc()
}

func distinct(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
