package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MarketSeed struct {
	Name            string
	DefaultCurrency string
	DefaultLocale   string
	Sites           []string
}

// Defaults are the markets, sites and channels a fresh install starts with.
var (
	DefaultMarkets = []MarketSeed{
		{Name: "United States", DefaultCurrency: "USD", DefaultLocale: "en-US", Sites: []string{"US Web"}},
		{Name: "Germany", DefaultCurrency: "EUR", DefaultLocale: "de-DE", Sites: []string{"DE Web"}},
		{Name: "United Kingdom", DefaultCurrency: "GBP", DefaultLocale: "en-GB", Sites: []string{"UK Web"}},
		{Name: "Japan", DefaultCurrency: "JPY", DefaultLocale: "ja-JP", Sites: []string{"JP Web"}},
	}
	DefaultChannels = []string{"Web", "App", "Point of Sale"}
)

type Options struct {
	Markets  []MarketSeed
	Channels []string
}

// EnsureScopes creates the seeded markets, sites and channels that do not
// exist yet, matching on the slug of their name. It is safe to run again.
func EnsureScopes(ctx context.Context, db *gorm.DB, node *snowflake.Node, repo scopedomain.Repository, log *zap.Logger, opts Options) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}
	if opts.Markets == nil {
		opts.Markets = DefaultMarkets
	}
	if opts.Channels == nil {
		opts.Channels = DefaultChannels
	}

	created := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, ms := range opts.Markets {
			market, isNew, err := ensureMarket(ctx, tx, node, repo, ms, now)
			if err != nil {
				return err
			}
			if isNew {
				created++
			}
			for _, name := range ms.Sites {
				isNew, err := ensureSite(ctx, tx, node, repo, market.ID, name, now)
				if err != nil {
					return err
				}
				if isNew {
					created++
				}
			}
		}
		for _, name := range opts.Channels {
			isNew, err := ensureChannel(ctx, tx, node, repo, name, now)
			if err != nil {
				return err
			}
			if isNew {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("scopes seeded", zap.Int("created", created))
	return nil
}

func ensureMarket(ctx context.Context, tx *gorm.DB, node *snowflake.Node, repo scopedomain.Repository, ms MarketSeed, now time.Time) (*scopedomain.Market, bool, error) {
	code := slug.Make(ms.Name)
	existing, err := repo.FindMarketByCode(ctx, tx, code)
	if err != nil || existing != nil {
		return existing, false, err
	}

	market := &scopedomain.Market{
		ID:              node.Generate(),
		Code:            code,
		Name:            ms.Name,
		DefaultCurrency: ms.DefaultCurrency,
		DefaultLocale:   ms.DefaultLocale,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := repo.InsertMarket(ctx, tx, market); err != nil {
		return nil, false, err
	}
	return market, true, nil
}

func ensureSite(ctx context.Context, tx *gorm.DB, node *snowflake.Node, repo scopedomain.Repository, marketID snowflake.ID, name string, now time.Time) (bool, error) {
	code := slug.Make(name)
	existing, err := repo.FindSiteByCode(ctx, tx, code)
	if err != nil || existing != nil {
		return false, err
	}
	return true, repo.InsertSite(ctx, tx, &scopedomain.Site{
		ID:        node.Generate(),
		MarketID:  &marketID,
		Code:      code,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func ensureChannel(ctx context.Context, tx *gorm.DB, node *snowflake.Node, repo scopedomain.Repository, name string, now time.Time) (bool, error) {
	code := slug.Make(name)
	existing, err := repo.FindChannelByCode(ctx, tx, code)
	if err != nil || existing != nil {
		return false, err
	}
	return true, repo.InsertChannel(ctx, tx, &scopedomain.Channel{
		ID:        node.Generate(),
		Code:      code,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	})
}
