package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/config"
	"github.com/railzwaylabs/pricing/internal/currency"
	"github.com/railzwaylabs/pricing/internal/metrics"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	"github.com/railzwaylabs/pricing/internal/pricerecord/mocks"
	"github.com/railzwaylabs/pricing/internal/pricingcontext"
	resolutiondomain "github.com/railzwaylabs/pricing/internal/resolution/domain"
	"github.com/railzwaylabs/pricing/internal/resolutioncache"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	now      = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	variant  = snowflake.ID(1001)
	usMarket = &scopedomain.Market{ID: 1, Code: "us", DefaultCurrency: "USD", DefaultLocale: "en-US"}
	usWeb    = &scopedomain.Site{ID: 2, Code: "us-web"}
	mobile   = &scopedomain.Channel{ID: 3, Code: "app"}
)

func idPtr(v snowflake.ID) *snowflake.ID { return &v }
func i64(v int64) *int64                 { return &v }

func newResolver(t *testing.T, repo recorddomain.Repository, cache *resolutioncache.Cache) resolutiondomain.Resolver {
	t.Helper()
	currencies, err := currency.NewRegistry("USD", "EUR")
	require.NoError(t, err)

	cfg := config.Config{}
	cfg.Pricing.QueryTimeout = time.Second
	cfg.Pricing.MaxBulkVariants = 50
	cfg.Cache.KeyPrefix = "price"

	return New(Params{
		Log:        zap.NewNop(),
		Config:     cfg,
		Clock:      clock.Fixed{At: now},
		Currencies: currencies,
		Repo:       repo,
		Cache:      cache,
		Metrics:    metrics.NewNop(),
	})
}

func mustContext(t *testing.T, opts ...pricingcontext.Option) pricingcontext.Context {
	t.Helper()
	pc, err := pricingcontext.New(opts...)
	require.NoError(t, err)
	return pc
}

func record(id int64, amount int64, mod func(*recorddomain.PriceRecord)) recorddomain.PriceRecord {
	r := recorddomain.PriceRecord{
		ID:          snowflake.ID(id),
		VariantID:   variant,
		Currency:    "USD",
		Amount:      amount,
		MinQuantity: 1,
		IsActive:    true,
		CreatedAt:   now.Add(-time.Hour),
	}
	if mod != nil {
		mod(&r)
	}
	return r
}

func expectCandidates(repo *mocks.MockRepository, records ...recorddomain.PriceRecord) {
	repo.EXPECT().ListEligible(gomock.Any(), gomock.Any(), gomock.Any()).Return(records, nil)
}

func TestResolveScopeAgnosticPriceMatchesAnyContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)

	contexts := []pricingcontext.Context{
		mustContext(t, pricingcontext.WithCurrency("USD")),
		mustContext(t, pricingcontext.WithMarket(usMarket)),
		mustContext(t, pricingcontext.WithMarket(usMarket), pricingcontext.WithSite(usWeb), pricingcontext.WithChannel(mobile), pricingcontext.WithQuantity(40)),
	}
	for _, pc := range contexts {
		expectCandidates(repo, record(1, 1500, nil))
		got, err := r.Resolve(context.Background(), variant, pc)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(1500), got.Amount)
	}
}

func TestResolveSpecificityLadder(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)

	agnostic := record(1, 1000, nil)
	market := record(2, 900, func(p *recorddomain.PriceRecord) { p.MarketID = idPtr(usMarket.ID) })
	site := record(3, 800, func(p *recorddomain.PriceRecord) {
		p.MarketID = idPtr(usMarket.ID)
		p.SiteID = idPtr(usWeb.ID)
	})
	channel := record(4, 700, func(p *recorddomain.PriceRecord) {
		p.MarketID = idPtr(usMarket.ID)
		p.SiteID = idPtr(usWeb.ID)
		p.ChannelID = idPtr(mobile.ID)
	})
	pc := mustContext(t, pricingcontext.WithMarket(usMarket), pricingcontext.WithSite(usWeb), pricingcontext.WithChannel(mobile))

	tests := []struct {
		name       string
		candidates []recorddomain.PriceRecord
		want       int64
	}{
		{"market beats agnostic", []recorddomain.PriceRecord{agnostic, market}, 900},
		{"site beats market", []recorddomain.PriceRecord{market, site, agnostic}, 800},
		{"channel beats site", []recorddomain.PriceRecord{site, channel, market, agnostic}, 700},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectCandidates(repo, tt.candidates...)
			got, err := r.Resolve(context.Background(), variant, pc)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Amount)
		})
	}
}

func TestResolveMarketPriceIgnoredForOtherMarket(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)

	otherMarket := record(2, 500, func(p *recorddomain.PriceRecord) { p.MarketID = idPtr(99) })
	expectCandidates(repo, record(1, 1000, nil), otherMarket)

	got, err := r.Resolve(context.Background(), variant, mustContext(t, pricingcontext.WithMarket(usMarket)))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1000), got.Amount)
}

func TestResolveQuantityTiers(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)

	small := record(1, 10000, func(p *recorddomain.PriceRecord) { p.MaxQuantity = i64(9) })
	large := record(2, 9000, func(p *recorddomain.PriceRecord) { p.MinQuantity = 10 })

	for qty, want := range map[int64]int64{1: 10000, 5: 10000, 9: 10000, 10: 9000, 500: 9000} {
		expectCandidates(repo, small, large)
		got, err := r.Resolve(context.Background(), variant, mustContext(t, pricingcontext.WithCurrency("USD"), pricingcontext.WithQuantity(qty)))
		require.NoError(t, err)
		require.NotNil(t, got, "qty %d", qty)
		assert.Equal(t, want, got.Amount, "qty %d", qty)
	}
}

func TestResolveCurrencyIsolation(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)

	eur := record(2, 950, func(p *recorddomain.PriceRecord) { p.Currency = "EUR"; p.MarketID = idPtr(usMarket.ID) })
	usd := record(1, 1000, nil)

	expectCandidates(repo, eur, usd)
	got, err := r.Resolve(context.Background(), variant, mustContext(t, pricingcontext.WithMarket(usMarket)))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "USD", got.Currency)

	expectCandidates(repo, eur)
	got, err = r.Resolve(context.Background(), variant, mustContext(t, pricingcontext.WithMarket(usMarket)))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveSkipsInactiveAndUnstartedRecords(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)

	inactive := record(2, 100, func(p *recorddomain.PriceRecord) {
		p.IsActive = false
		p.MarketID = idPtr(usMarket.ID)
		p.ChannelID = idPtr(mobile.ID)
	})
	future := now.Add(time.Minute)
	upcoming := record(3, 200, func(p *recorddomain.PriceRecord) {
		p.StartsAt = &future
		p.MarketID = idPtr(usMarket.ID)
	})
	past := now.Add(-time.Minute)
	ended := record(4, 300, func(p *recorddomain.PriceRecord) {
		p.EndsAt = &past
		p.MarketID = idPtr(usMarket.ID)
	})

	pc := mustContext(t, pricingcontext.WithMarket(usMarket), pricingcontext.WithChannel(mobile))
	expectCandidates(repo, inactive, upcoming, ended, record(1, 1000, nil))
	got, err := r.Resolve(context.Background(), variant, pc)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1000), got.Amount)

	// once the window opens the scheduled price wins
	expectCandidates(repo, inactive, upcoming, ended, record(1, 1000, nil))
	got, err = r.Resolve(clock.WithTime(context.Background(), future), variant, pc)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(200), got.Amount)
}

func TestResolveTieBreaks(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)

	older := record(1, 1000, nil)
	newer := record(2, 1100, func(p *recorddomain.PriceRecord) { p.CreatedAt = now.Add(-time.Minute) })

	expectCandidates(repo, older, newer)
	got, err := r.Resolve(context.Background(), variant, mustContext(t, pricingcontext.WithCurrency("USD")))
	require.NoError(t, err)
	assert.Equal(t, int64(1100), got.Amount)

	narrow := record(3, 1200, func(p *recorddomain.PriceRecord) { p.MaxQuantity = i64(5); p.CreatedAt = now.Add(-48 * time.Hour) })
	expectCandidates(repo, older, newer, narrow)
	got, err = r.Resolve(context.Background(), variant, mustContext(t, pricingcontext.WithCurrency("USD")))
	require.NoError(t, err)
	assert.Equal(t, int64(1200), got.Amount)
}

func TestResolveRejectsInvalidContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)

	_, err := r.Resolve(context.Background(), variant, mustContext(t, pricingcontext.WithCurrency("GBP")))
	assert.ErrorIs(t, err, resolutiondomain.ErrInvalidContext)

	_, err = r.Resolve(context.Background(), variant, pricingcontext.Context{})
	assert.ErrorIs(t, err, resolutiondomain.ErrInvalidContext)
}

func TestResolveWrapsStoreFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)

	cause := errors.New("connection reset")
	repo.EXPECT().ListEligible(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, cause)

	_, err := r.Resolve(context.Background(), variant, mustContext(t, pricingcontext.WithCurrency("USD")))
	assert.ErrorIs(t, err, resolutiondomain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestResolveBulkUsesOneReadAndCoversEveryVariant(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)

	a, b, missing := snowflake.ID(1), snowflake.ID(2), snowflake.ID(3)
	repo.EXPECT().
		ListEligible(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, f recorddomain.EligibleFilter) ([]recorddomain.PriceRecord, error) {
			assert.ElementsMatch(t, []snowflake.ID{a, b, missing}, f.VariantIDs)
			assert.Equal(t, "USD", f.Currency)
			assert.Equal(t, int64(2), f.Quantity)
			return []recorddomain.PriceRecord{
				record(10, 100, func(p *recorddomain.PriceRecord) { p.VariantID = a }),
				record(11, 90, func(p *recorddomain.PriceRecord) { p.VariantID = a; p.MarketID = idPtr(usMarket.ID) }),
				record(12, 200, func(p *recorddomain.PriceRecord) { p.VariantID = b }),
			}, nil
		}).
		Times(1)

	got, err := r.ResolveBulk(context.Background(), []snowflake.ID{a, b, missing, a}, mustContext(t, pricingcontext.WithMarket(usMarket), pricingcontext.WithQuantity(2)))
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, int64(90), got[a].Amount)
	assert.Equal(t, int64(200), got[b].Amount)
	v, ok := got[missing]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestResolveBulkEmptyAndOversized(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	r := newResolver(t, repo, nil)
	pc := mustContext(t, pricingcontext.WithCurrency("USD"))

	got, err := r.ResolveBulk(context.Background(), nil, pc)
	require.NoError(t, err)
	assert.Empty(t, got)

	ids := make([]snowflake.ID, 51)
	for i := range ids {
		ids[i] = snowflake.ID(i + 1)
	}
	_, err = r.ResolveBulk(context.Background(), ids, pc)
	assert.ErrorIs(t, err, resolutiondomain.ErrInvalidContext)
}

func TestResolveServesFromCacheUntilInvalidated(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	cache := resolutioncache.New(resolutioncache.NewMemoryStore(0), time.Minute, zap.NewNop(), metrics.NewNop())
	r := newResolver(t, repo, cache)
	pc := mustContext(t, pricingcontext.WithMarket(usMarket))
	ctx := context.Background()

	repo.EXPECT().ListEligible(gomock.Any(), gomock.Any(), gomock.Any()).Return([]recorddomain.PriceRecord{record(1, 1000, nil)}, nil).Times(1)
	for i := 0; i < 3; i++ {
		got, err := r.Resolve(ctx, variant, pc)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), got.Amount)
	}

	require.NoError(t, cache.Invalidate(ctx, pricingcontext.VariantTag(variant)))
	repo.EXPECT().ListEligible(gomock.Any(), gomock.Any(), gomock.Any()).Return([]recorddomain.PriceRecord{record(2, 800, nil)}, nil).Times(1)
	got, err := r.Resolve(ctx, variant, pc)
	require.NoError(t, err)
	assert.Equal(t, int64(800), got.Amount)
}

func TestResolveBulkOnlyReadsCacheMisses(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	cache := resolutioncache.New(resolutioncache.NewMemoryStore(0), time.Minute, zap.NewNop(), metrics.NewNop())
	r := newResolver(t, repo, cache)
	pc := mustContext(t, pricingcontext.WithCurrency("USD"))
	ctx := context.Background()

	a, b := snowflake.ID(1), snowflake.ID(2)
	repo.EXPECT().ListEligible(gomock.Any(), gomock.Any(), gomock.Any()).Return([]recorddomain.PriceRecord{
		record(10, 100, func(p *recorddomain.PriceRecord) { p.VariantID = a }),
	}, nil).Times(1)
	_, err := r.Resolve(ctx, a, pc)
	require.NoError(t, err)

	repo.EXPECT().
		ListEligible(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, f recorddomain.EligibleFilter) ([]recorddomain.PriceRecord, error) {
			assert.Equal(t, []snowflake.ID{b}, f.VariantIDs)
			return nil, nil
		}).
		Times(1)
	got, err := r.ResolveBulk(ctx, []snowflake.ID{a, b}, pc)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got[a].Amount)
	assert.Nil(t, got[b])

	// negative results are cached too
	got, err = r.ResolveBulk(ctx, []snowflake.ID{a, b}, pc)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
