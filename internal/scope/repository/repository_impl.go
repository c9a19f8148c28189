package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() scopedomain.Repository {
	return &repo{}
}

func (r *repo) InsertMarket(ctx context.Context, db *gorm.DB, m *scopedomain.Market) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) InsertSite(ctx context.Context, db *gorm.DB, s *scopedomain.Site) error {
	return db.WithContext(ctx).Create(s).Error
}

func (r *repo) InsertChannel(ctx context.Context, db *gorm.DB, c *scopedomain.Channel) error {
	return db.WithContext(ctx).Create(c).Error
}

func (r *repo) FindMarket(ctx context.Context, db *gorm.DB, id snowflake.ID) (*scopedomain.Market, error) {
	var m scopedomain.Market
	return first(db.WithContext(ctx).Where("id = ?", id), &m)
}

func (r *repo) FindMarketByCode(ctx context.Context, db *gorm.DB, code string) (*scopedomain.Market, error) {
	var m scopedomain.Market
	return first(db.WithContext(ctx).Where("code = ?", strings.TrimSpace(code)), &m)
}

func (r *repo) FindSite(ctx context.Context, db *gorm.DB, id snowflake.ID) (*scopedomain.Site, error) {
	var s scopedomain.Site
	return first(db.WithContext(ctx).Where("id = ?", id), &s)
}

func (r *repo) FindSiteByCode(ctx context.Context, db *gorm.DB, code string) (*scopedomain.Site, error) {
	var s scopedomain.Site
	return first(db.WithContext(ctx).Where("code = ?", strings.TrimSpace(code)), &s)
}

func (r *repo) FindChannel(ctx context.Context, db *gorm.DB, id snowflake.ID) (*scopedomain.Channel, error) {
	var c scopedomain.Channel
	return first(db.WithContext(ctx).Where("id = ?", id), &c)
}

func (r *repo) FindChannelByCode(ctx context.Context, db *gorm.DB, code string) (*scopedomain.Channel, error) {
	var c scopedomain.Channel
	return first(db.WithContext(ctx).Where("code = ?", strings.TrimSpace(code)), &c)
}

func (r *repo) ListMarkets(ctx context.Context, db *gorm.DB, activeOnly bool) ([]scopedomain.Market, error) {
	var items []scopedomain.Market
	stmt := db.WithContext(ctx).Model(&scopedomain.Market{})
	if activeOnly {
		stmt = stmt.Where("is_active = ?", true)
	}
	if err := stmt.Order("code asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func first[T any](stmt *gorm.DB, dest *T) (*T, error) {
	err := stmt.First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dest, nil
}
