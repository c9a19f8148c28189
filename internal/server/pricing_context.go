package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/pricingcontext"
	resolutiondomain "github.com/railzwaylabs/pricing/internal/resolution/domain"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
)

// contextRequest carries the pricing dimensions shared by resolve and quote
// calls. At pins the evaluation time, which bypasses the cache.
type contextRequest struct {
	MarketID    string     `json:"market_id"`
	SiteID      string     `json:"site_id"`
	ChannelID   string     `json:"channel_id"`
	PriceListID string     `json:"price_list_id"`
	Currency    string     `json:"currency"`
	Locale      string     `json:"locale"`
	Quantity    *int64     `json:"quantity"`
	At          *time.Time `json:"at"`
}

// pricingContext turns the request dimensions into a pricing context. A
// site bound to a market implies that market when none is given.
func (s *Server) pricingContext(ctx context.Context, req contextRequest) (context.Context, pricingcontext.Context, error) {
	opts := make([]pricingcontext.Option, 0, 7)

	siteID, err := parseOptionalID("site_id", req.SiteID)
	if err != nil {
		return ctx, pricingcontext.Context{}, err
	}
	var site *scopedomain.Site
	if siteID != nil {
		site, err = s.scopes.SiteByID(ctx, *siteID)
		if err != nil {
			return ctx, pricingcontext.Context{}, scopeError(err)
		}
		opts = append(opts, pricingcontext.WithSite(site))
	}

	marketID, err := parseOptionalID("market_id", req.MarketID)
	if err != nil {
		return ctx, pricingcontext.Context{}, err
	}
	if marketID == nil && site != nil {
		marketID = site.MarketID
	}
	if marketID != nil {
		market, err := s.scopes.MarketByID(ctx, *marketID)
		if err != nil {
			return ctx, pricingcontext.Context{}, scopeError(err)
		}
		opts = append(opts, pricingcontext.WithMarket(market))
	}

	channelID, err := parseOptionalID("channel_id", req.ChannelID)
	if err != nil {
		return ctx, pricingcontext.Context{}, err
	}
	if channelID != nil {
		channel, err := s.scopes.ChannelByID(ctx, *channelID)
		if err != nil {
			return ctx, pricingcontext.Context{}, scopeError(err)
		}
		opts = append(opts, pricingcontext.WithChannel(channel))
	}

	priceListID, err := parseOptionalID("price_list_id", req.PriceListID)
	if err != nil {
		return ctx, pricingcontext.Context{}, err
	}
	if priceListID != nil {
		opts = append(opts, pricingcontext.WithPriceList(*priceListID))
	}

	opts = append(opts, pricingcontext.WithCurrency(req.Currency), pricingcontext.WithLocale(req.Locale))
	if req.Quantity != nil {
		opts = append(opts, pricingcontext.WithQuantity(*req.Quantity))
	}

	pc, err := pricingcontext.New(opts...)
	if err != nil {
		return ctx, pricingcontext.Context{}, err
	}
	if req.At != nil {
		ctx = clock.WithTime(ctx, *req.At)
	}
	return ctx, pc, nil
}

func parseOptionalID(field, value string) (*snowflake.ID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(value)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: %s %q", pricingcontext.ErrInvalidContext, field, value)
	}
	return &id, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id %q", ErrInvalidRequest, value)
	}
	return id, nil
}

func scopeError(err error) error {
	switch {
	case errors.Is(err, scopedomain.ErrMarketNotFound),
		errors.Is(err, scopedomain.ErrSiteNotFound),
		errors.Is(err, scopedomain.ErrChannelNotFound):
		return fmt.Errorf("%w: %w", pricingcontext.ErrInvalidContext, err)
	}
	return fmt.Errorf("%w: %w", resolutiondomain.ErrStoreUnavailable, err)
}
