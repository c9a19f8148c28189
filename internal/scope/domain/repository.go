package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrMarketNotFound  = errors.New("market_not_found")
	ErrSiteNotFound    = errors.New("site_not_found")
	ErrChannelNotFound = errors.New("channel_not_found")
)

type Repository interface {
	InsertMarket(ctx context.Context, db *gorm.DB, m *Market) error
	InsertSite(ctx context.Context, db *gorm.DB, s *Site) error
	InsertChannel(ctx context.Context, db *gorm.DB, c *Channel) error

	FindMarket(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Market, error)
	FindMarketByCode(ctx context.Context, db *gorm.DB, code string) (*Market, error)
	FindSite(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Site, error)
	FindSiteByCode(ctx context.Context, db *gorm.DB, code string) (*Site, error)
	FindChannel(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Channel, error)
	FindChannelByCode(ctx context.Context, db *gorm.DB, code string) (*Channel, error)

	ListMarkets(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Market, error)
}

// Lookup resolves scope ids into entities. Callers building a pricing
// context use it to pick up market defaults.
type Lookup interface {
	MarketByID(ctx context.Context, id snowflake.ID) (*Market, error)
	SiteByID(ctx context.Context, id snowflake.ID) (*Site, error)
	ChannelByID(ctx context.Context, id snowflake.ID) (*Channel, error)
	Markets(ctx context.Context) ([]Market, error)
}
