package integration

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/config"
	"github.com/railzwaylabs/pricing/internal/currency"
	"github.com/railzwaylabs/pricing/internal/metrics"
	"github.com/railzwaylabs/pricing/internal/migration"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	recordrepository "github.com/railzwaylabs/pricing/internal/pricerecord/repository"
	recordservice "github.com/railzwaylabs/pricing/internal/pricerecord/service"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
	rulerepository "github.com/railzwaylabs/pricing/internal/pricerule/repository"
	ruleservice "github.com/railzwaylabs/pricing/internal/pricerule/service"
	"github.com/railzwaylabs/pricing/internal/pricingcontext"
	quotedomain "github.com/railzwaylabs/pricing/internal/quote/domain"
	quoteservice "github.com/railzwaylabs/pricing/internal/quote/service"
	resolutionservice "github.com/railzwaylabs/pricing/internal/resolution/service"
	"github.com/railzwaylabs/pricing/internal/resolutioncache"
	"github.com/railzwaylabs/pricing/internal/scheduler"
	"github.com/railzwaylabs/pricing/internal/scope"
	scoperepository "github.com/railzwaylabs/pricing/internal/scope/repository"
	"github.com/railzwaylabs/pricing/internal/seed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestPricingCriticalPath(t *testing.T) {
	// 1. Infrastructure
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ctx := context.Background()
	log := zap.NewNop()
	require.NoError(t, migration.Run(ctx, db, log))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Date(2025, 11, 28, 9, 0, 0, 0, time.UTC)
	clk := clock.Fixed{At: now}

	currencies, err := currency.NewRegistry("USD", "EUR", "GBP", "JPY")
	require.NoError(t, err)

	cfg := config.Config{
		Cache:     config.CacheConfig{Backend: "memory", TTL: time.Minute, KeyPrefix: "price"},
		Pricing:   config.PricingConfig{QueryTimeout: time.Second, DefaultEntityType: "variant", MaxBulkVariants: 100},
		Scheduler: config.SchedulerConfig{Enabled: true, WindowSweepLookback: 3 * time.Hour},
	}

	// 2. Scopes
	scopeRepo := scoperepository.Provide()
	require.NoError(t, seed.EnsureScopes(ctx, db, node, scopeRepo, log, seed.Options{}))
	us, err := scopeRepo.FindMarketByCode(ctx, db, "united-states")
	require.NoError(t, err)
	require.NotNil(t, us)
	web, err := scopeRepo.FindChannelByCode(ctx, db, "web")
	require.NoError(t, err)
	require.NotNil(t, web)

	// 3. Services
	store := resolutioncache.NewMemoryStore(1000)
	cache := resolutioncache.New(store, time.Minute, log, metrics.NewNop())
	lookup := scope.NewLookup(scope.LookupParams{DB: db, Repo: scopeRepo})
	recordRepo := recordrepository.Provide()

	records := recordservice.New(recordservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Currencies:  currencies,
		Scopes:      lookup,
		Repo:        recordRepo,
		Invalidator: cache,
	})
	resolver := resolutionservice.New(resolutionservice.Params{
		DB:         db,
		Log:        log,
		Config:     cfg,
		Clock:      clk,
		Currencies: currencies,
		Repo:       recordRepo,
		Cache:      cache,
	})
	rules := ruleservice.New(ruleservice.Params{
		DB:     db,
		Log:    log,
		Config: cfg,
		GenID:  node,
		Clock:  clk,
		Repo:   rulerepository.Provide(),
	})
	quotes := quoteservice.New(quoteservice.Params{Log: log, Resolver: resolver, Rules: rules})
	sweeper := scheduler.New(scheduler.Params{
		DB:          db,
		Log:         log,
		Config:      cfg,
		Clock:       clk,
		Repo:        recordRepo,
		Invalidator: cache,
	})

	// 4. Price records: list price, market price and a channel sale starting in an hour
	saleStart := now.Add(time.Hour)
	listPrice, err := records.Create(ctx, recorddomain.CreateRequest{VariantID: "7001", Currency: "USD", Amount: 2000})
	require.NoError(t, err)
	marketPrice, err := records.Create(ctx, recorddomain.CreateRequest{
		VariantID: "7001", MarketID: us.ID.String(), Currency: "USD", Amount: 1800,
	})
	require.NoError(t, err)
	salePrice, err := records.Create(ctx, recorddomain.CreateRequest{
		VariantID: "7001", MarketID: us.ID.String(), ChannelID: web.ID.String(),
		Currency: "USD", Amount: 1500, StartsAt: &saleStart,
	})
	require.NoError(t, err)

	market, err := lookup.MarketByID(ctx, us.ID)
	require.NoError(t, err)
	channel, err := lookup.ChannelByID(ctx, web.ID)
	require.NoError(t, err)
	pc, err := pricingcontext.New(pricingcontext.WithMarket(market), pricingcontext.WithChannel(channel))
	require.NoError(t, err)
	assert.Equal(t, "USD", pc.Currency())

	// 5. Resolution: the sale has not started, the market price wins
	got, err := resolver.Resolve(ctx, 7001, pc)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, marketPrice.ID, got.ID)

	// Previewing after the sale starts bypasses the cache
	later := clock.WithTime(ctx, now.Add(2*time.Hour))
	got, err = resolver.Resolve(later, 7001, pc)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, salePrice.ID, got.ID)

	got, err = resolver.Resolve(ctx, 7001, pc)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, marketPrice.ID, got.ID)

	bulk, err := resolver.ResolveBulk(ctx, []snowflake.ID{7001, 7002}, pc)
	require.NoError(t, err)
	require.NotNil(t, bulk[7001])
	assert.Equal(t, marketPrice.ID, bulk[7001].ID)
	assert.Nil(t, bulk[7002])

	// 6. Rules and quotes
	limit := int64(1)
	rule, err := rules.Create(ctx, ruledomain.CreateRequest{
		Name:          "Black Friday",
		Priority:      10,
		EntityType:    "variant",
		EntityIDs:     []string{"7001"},
		DiscountType:  "percent",
		DiscountValue: "10",
		UsageLimit:    &limit,
	})
	require.NoError(t, err)

	pc3, err := pc.WithQuantity(3)
	require.NoError(t, err)
	q, err := quotes.Quote(ctx, quotedomain.Request{VariantID: 7001, Context: pc3})
	require.NoError(t, err)
	assert.Equal(t, int64(1800), q.BaseAmount)
	assert.Equal(t, int64(1620), q.FinalAmount)
	assert.Equal(t, int64(4860), q.LineTotal)
	assert.Equal(t, []snowflake.ID{rule.ID}, q.AppliedRules)

	// 7. Usage ledger: the order and the usage commit together
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := rules.RecordUsage(ctx, tx, ruledomain.RecordUsageRequest{
			PriceRuleID:    rule.ID,
			OrderID:        uuid.NewString(),
			DiscountAmount: q.Discount * q.Quantity,
			Currency:       q.Currency,
		})
		return err
	})
	require.NoError(t, err)

	_, err = rules.RecordUsage(ctx, db, ruledomain.RecordUsageRequest{
		PriceRuleID: rule.ID, OrderID: uuid.NewString(), Currency: "USD",
	})
	assert.ErrorIs(t, err, ruledomain.ErrUsageLimitReached)

	q, err = quotes.Quote(ctx, quotedomain.Request{VariantID: 7001, Context: pc3})
	require.NoError(t, err)
	assert.Equal(t, int64(1800), q.FinalAmount, "exhausted rule no longer applies")

	// 8. Retiring the market price invalidates the cached winner
	_, err = records.Retire(ctx, marketPrice.ID.String())
	require.NoError(t, err)
	got, err = resolver.Resolve(ctx, 7001, pc)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, listPrice.ID, got.ID)

	// 9. The window sweep bumps the variant once the sale boundary passes
	tag := pricingcontext.VariantTag(7001)
	before, err := store.Versions(ctx, []string{tag})
	require.NoError(t, err)
	require.NoError(t, sweeper.SweepWindows(later))
	after, err := store.Versions(ctx, []string{tag})
	require.NoError(t, err)
	assert.Greater(t, after[0], before[0])
}
