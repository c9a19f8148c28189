package seed

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"github.com/railzwaylabs/pricing/internal/scope/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestEnsureScopes(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&scopedomain.Market{}, &scopedomain.Site{}, &scopedomain.Channel{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := repository.Provide()
	ctx := context.Background()

	require.NoError(t, EnsureScopes(ctx, db, node, repo, zap.NewNop(), Options{}))
	require.NoError(t, EnsureScopes(ctx, db, node, repo, zap.NewNop(), Options{}))

	var markets, sites, channels int64
	require.NoError(t, db.Model(&scopedomain.Market{}).Count(&markets).Error)
	require.NoError(t, db.Model(&scopedomain.Site{}).Count(&sites).Error)
	require.NoError(t, db.Model(&scopedomain.Channel{}).Count(&channels).Error)
	assert.Equal(t, int64(len(DefaultMarkets)), markets)
	assert.Equal(t, int64(len(DefaultMarkets)), sites)
	assert.Equal(t, int64(len(DefaultChannels)), channels)

	us, err := repo.FindMarketByCode(ctx, db, "united-states")
	require.NoError(t, err)
	require.NotNil(t, us)
	assert.Equal(t, "USD", us.DefaultCurrency)

	site, err := repo.FindSiteByCode(ctx, db, "us-web")
	require.NoError(t, err)
	require.NotNil(t, site)
	assert.Equal(t, us.ID, *site.MarketID)

	pos, err := repo.FindChannelByCode(ctx, db, "point-of-sale")
	require.NoError(t, err)
	assert.NotNil(t, pos)
}
