package scope

import (
	"context"

	"github.com/bwmarrin/snowflake"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type LookupParams struct {
	fx.In

	DB   *gorm.DB
	Repo scopedomain.Repository
}

type lookup struct {
	db   *gorm.DB
	repo scopedomain.Repository
}

func NewLookup(p LookupParams) scopedomain.Lookup {
	return &lookup{db: p.DB, repo: p.Repo}
}

func (l *lookup) MarketByID(ctx context.Context, id snowflake.ID) (*scopedomain.Market, error) {
	m, err := l.repo.FindMarket(ctx, l.db, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, scopedomain.ErrMarketNotFound
	}
	return m, nil
}

func (l *lookup) SiteByID(ctx context.Context, id snowflake.ID) (*scopedomain.Site, error) {
	s, err := l.repo.FindSite(ctx, l.db, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, scopedomain.ErrSiteNotFound
	}
	return s, nil
}

func (l *lookup) ChannelByID(ctx context.Context, id snowflake.ID) (*scopedomain.Channel, error) {
	c, err := l.repo.FindChannel(ctx, l.db, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, scopedomain.ErrChannelNotFound
	}
	return c, nil
}

func (l *lookup) Markets(ctx context.Context) ([]scopedomain.Market, error) {
	return l.repo.ListMarkets(ctx, l.db, true)
}
