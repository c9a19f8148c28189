package pricingcontext

import (
	"testing"

	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usMarket = &scopedomain.Market{ID: 11, Code: "us", DefaultCurrency: "usd", DefaultLocale: "en-us"}
	webSite  = &scopedomain.Site{ID: 22, Code: "us-web"}
	appChan  = &scopedomain.Channel{ID: 33, Code: "app"}
)

func TestNewDefaultsFromMarket(t *testing.T) {
	pc, err := New(WithMarket(usMarket))
	require.NoError(t, err)

	assert.Equal(t, "USD", pc.Currency())
	assert.Equal(t, "en-US", pc.Locale())
	assert.Equal(t, int64(1), pc.Quantity())
}

func TestNewExplicitValuesWinOverMarketDefaults(t *testing.T) {
	pc, err := New(WithMarket(usMarket), WithCurrency("eur"), WithLocale("de-DE"), WithQuantity(4))
	require.NoError(t, err)

	assert.Equal(t, "EUR", pc.Currency())
	assert.Equal(t, "de-DE", pc.Locale())
	assert.Equal(t, int64(4), pc.Quantity())
}

func TestNewRejectsInvalidInput(t *testing.T) {
	cases := map[string][]Option{
		"no currency":      nil,
		"bad currency":     {WithCurrency("US")},
		"digits currency":  {WithCurrency("U5D")},
		"unknown currency": {WithCurrency("ZZZ")},
		"zero quantity":    {WithCurrency("USD"), WithQuantity(0)},
		"negative qty":     {WithCurrency("USD"), WithQuantity(-2)},
		"malformed locale": {WithCurrency("USD"), WithLocale("not a locale")},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(opts...)
			assert.ErrorIs(t, err, ErrInvalidContext)
		})
	}
}

func TestCacheKeyFormat(t *testing.T) {
	pc, err := New(WithMarket(usMarket), WithSite(webSite), WithQuantity(3))
	require.NoError(t, err)
	assert.Equal(t, "price:m11:s22:curUSD:qty3", pc.CacheKey("price"))

	full, err := New(WithMarket(usMarket), WithSite(webSite), WithChannel(appChan), WithPriceList(44), WithCurrency("USD"))
	require.NoError(t, err)
	assert.Equal(t, "price:m11:s22:ch33:pl44:curUSD:qty1", full.CacheKey("price"))

	bare, err := New(WithCurrency("jpy"))
	require.NoError(t, err)
	assert.Equal(t, "p:curJPY:qty1", bare.CacheKey("p"))
}

func TestCacheKeyIsDeterministic(t *testing.T) {
	a, err := New(WithChannel(appChan), WithMarket(usMarket), WithQuantity(2))
	require.NoError(t, err)
	b, err := New(WithQuantity(2), WithMarket(usMarket), WithChannel(appChan), WithLocale("fr-FR"))
	require.NoError(t, err)
	assert.Equal(t, a.CacheKey("k"), b.CacheKey("k"))

	variants := []Context{}
	for _, opts := range [][]Option{
		{WithChannel(appChan), WithMarket(&scopedomain.Market{ID: 12, DefaultCurrency: "USD"}), WithQuantity(2)},
		{WithChannel(appChan), WithMarket(usMarket), WithQuantity(3)},
		{WithChannel(appChan), WithMarket(usMarket), WithQuantity(2), WithCurrency("CAD")},
		{WithMarket(usMarket), WithQuantity(2)},
		{WithChannel(appChan), WithMarket(usMarket), WithSite(webSite), WithQuantity(2)},
		{WithChannel(appChan), WithMarket(usMarket), WithPriceList(9), WithQuantity(2)},
	} {
		pc, err := New(opts...)
		require.NoError(t, err)
		variants = append(variants, pc)
	}
	for _, v := range variants {
		assert.NotEqual(t, a.CacheKey("k"), v.CacheKey("k"))
	}
}

func TestTags(t *testing.T) {
	pc, err := New(WithMarket(usMarket), WithChannel(appChan))
	require.NoError(t, err)
	assert.Equal(t, []string{"market:11", "channel:33", "currency:USD"}, pc.Tags())
}

func TestWithQuantityCopies(t *testing.T) {
	pc, err := New(WithCurrency("USD"))
	require.NoError(t, err)

	more, err := pc.WithQuantity(10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pc.Quantity())
	assert.Equal(t, int64(10), more.Quantity())

	_, err = pc.WithQuantity(0)
	assert.ErrorIs(t, err, ErrInvalidContext)
}
