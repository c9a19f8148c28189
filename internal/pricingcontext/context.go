// Package pricingcontext describes the dimensions a price is resolved
// against: market, site, channel, price list, currency, locale and quantity.
package pricingcontext

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/internal/currency"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"golang.org/x/text/language"
)

// ErrInvalidContext is returned for contexts that cannot be resolved against:
// a missing or malformed currency, a quantity below one or a bad locale.
var ErrInvalidContext = errors.New("invalid_context")

// Context is immutable once built; all fields are read through accessors.
type Context struct {
	market      *scopedomain.Market
	site        *scopedomain.Site
	channel     *scopedomain.Channel
	priceListID *snowflake.ID
	currency    string
	locale      string
	quantity    int64
}

type Option func(*builder)

type builder struct {
	market      *scopedomain.Market
	site        *scopedomain.Site
	channel     *scopedomain.Channel
	priceListID *snowflake.ID
	currency    string
	locale      string
	quantity    *int64
}

func WithMarket(m *scopedomain.Market) Option {
	return func(b *builder) { b.market = m }
}

func WithSite(s *scopedomain.Site) Option {
	return func(b *builder) { b.site = s }
}

func WithChannel(c *scopedomain.Channel) Option {
	return func(b *builder) { b.channel = c }
}

func WithPriceList(id snowflake.ID) Option {
	return func(b *builder) {
		if id != 0 {
			b.priceListID = &id
		}
	}
}

func WithCurrency(code string) Option {
	return func(b *builder) { b.currency = code }
}

func WithLocale(locale string) Option {
	return func(b *builder) { b.locale = locale }
}

func WithQuantity(qty int64) Option {
	return func(b *builder) { b.quantity = &qty }
}

// New builds a Context. Currency and locale fall back to the market
// defaults when not given; quantity falls back to 1.
func New(opts ...Option) (Context, error) {
	var b builder
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}

	code := strings.TrimSpace(b.currency)
	locale := strings.TrimSpace(b.locale)
	if b.market != nil {
		if code == "" {
			code = strings.TrimSpace(b.market.DefaultCurrency)
		}
		if locale == "" {
			locale = strings.TrimSpace(b.market.DefaultLocale)
		}
	}

	code, err := currency.Canonical(code)
	if err != nil {
		return Context{}, fmt.Errorf("%w: %w", ErrInvalidContext, err)
	}

	if locale != "" {
		tag, err := language.Parse(locale)
		if err != nil {
			return Context{}, fmt.Errorf("%w: locale %q", ErrInvalidContext, locale)
		}
		locale = tag.String()
	}

	quantity := int64(1)
	if b.quantity != nil {
		quantity = *b.quantity
	}
	if quantity < 1 {
		return Context{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidContext)
	}

	return Context{
		market:      b.market,
		site:        b.site,
		channel:     b.channel,
		priceListID: b.priceListID,
		currency:    code,
		locale:      locale,
		quantity:    quantity,
	}, nil
}

func (c Context) Market() *scopedomain.Market   { return c.market }
func (c Context) Site() *scopedomain.Site       { return c.site }
func (c Context) Channel() *scopedomain.Channel { return c.channel }
func (c Context) Currency() string              { return c.currency }
func (c Context) Locale() string                { return c.locale }
func (c Context) Quantity() int64               { return c.quantity }

func (c Context) MarketID() *snowflake.ID {
	if c.market == nil {
		return nil
	}
	id := c.market.ID
	return &id
}

func (c Context) SiteID() *snowflake.ID {
	if c.site == nil {
		return nil
	}
	id := c.site.ID
	return &id
}

func (c Context) ChannelID() *snowflake.ID {
	if c.channel == nil {
		return nil
	}
	id := c.channel.ID
	return &id
}

func (c Context) PriceListID() *snowflake.ID {
	if c.priceListID == nil {
		return nil
	}
	id := *c.priceListID
	return &id
}

// WithQuantity returns a copy of c resolving for qty units.
func (c Context) WithQuantity(qty int64) (Context, error) {
	if qty < 1 {
		return Context{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidContext)
	}
	c.quantity = qty
	return c, nil
}

// CacheKey encodes the dimensions that affect resolution, in fixed order:
// market, site, channel, price list, currency, quantity. Absent dimensions
// are omitted. Locale is not part of the key since it never changes which
// record wins.
func (c Context) CacheKey(prefix string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte(':')

	tokens := make([]string, 0, 6)
	if id := c.MarketID(); id != nil {
		tokens = append(tokens, "m"+id.String())
	}
	if id := c.SiteID(); id != nil {
		tokens = append(tokens, "s"+id.String())
	}
	if id := c.ChannelID(); id != nil {
		tokens = append(tokens, "ch"+id.String())
	}
	if id := c.PriceListID(); id != nil {
		tokens = append(tokens, "pl"+id.String())
	}
	tokens = append(tokens, "cur"+c.currency, "qty"+strconv.FormatInt(c.quantity, 10))

	sb.WriteString(strings.Join(tokens, ":"))
	return sb.String()
}

// Tags lists the scope tags a cached resolution for c depends on.
func (c Context) Tags() []string {
	tags := make([]string, 0, 5)
	if id := c.MarketID(); id != nil {
		tags = append(tags, MarketTag(*id))
	}
	if id := c.SiteID(); id != nil {
		tags = append(tags, SiteTag(*id))
	}
	if id := c.ChannelID(); id != nil {
		tags = append(tags, ChannelTag(*id))
	}
	if id := c.PriceListID(); id != nil {
		tags = append(tags, PriceListTag(*id))
	}
	return append(tags, CurrencyTag(c.currency))
}

func MarketTag(id snowflake.ID) string    { return "market:" + id.String() }
func SiteTag(id snowflake.ID) string      { return "site:" + id.String() }
func ChannelTag(id snowflake.ID) string   { return "channel:" + id.String() }
func PriceListTag(id snowflake.ID) string { return "pricelist:" + id.String() }
func VariantTag(id snowflake.ID) string   { return "variant:" + id.String() }
func CurrencyTag(code string) string      { return "currency:" + strings.ToUpper(code) }
