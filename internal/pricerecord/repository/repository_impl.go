package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	"github.com/railzwaylabs/pricing/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() recorddomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *recorddomain.PriceRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*recorddomain.PriceRecord, error) {
	var record recorddomain.PriceRecord
	err := db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, opts recorddomain.ListOptions, page pagination.Pagination) ([]*recorddomain.PriceRecord, error) {
	var items []*recorddomain.PriceRecord

	query := db.WithContext(ctx).Model(&recorddomain.PriceRecord{})
	if opts.VariantID != nil {
		query = query.Where("variant_id = ?", *opts.VariantID)
	}
	if opts.MarketID != nil {
		query = query.Where("market_id = ?", *opts.MarketID)
	}
	if opts.Currency != "" {
		query = query.Where("currency = ?", opts.Currency)
	}
	if opts.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}

	query, err := page.Apply(query)
	if err != nil {
		return nil, err
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Retire(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&recorddomain.PriceRecord{}).
		Where("id = ? AND retired_at IS NULL", id).
		Updates(map[string]any{
			"is_active":  false,
			"retired_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListEligible(ctx context.Context, db *gorm.DB, filter recorddomain.EligibleFilter) ([]recorddomain.PriceRecord, error) {
	if len(filter.VariantIDs) == 0 {
		return nil, nil
	}

	query := db.WithContext(ctx).
		Model(&recorddomain.PriceRecord{}).
		Where("variant_id IN ?", filter.VariantIDs).
		Where("currency = ?", filter.Currency).
		Where("is_active = ?", true).
		Where("(starts_at IS NULL OR starts_at <= ?)", filter.At).
		Where("(ends_at IS NULL OR ends_at >= ?)", filter.At).
		Where("min_quantity <= ?", filter.Quantity).
		Where("(max_quantity IS NULL OR max_quantity >= ?)", filter.Quantity)

	query = scoped(query, "market_id", filter.Scope.MarketID)
	query = scoped(query, "site_id", filter.Scope.SiteID)
	query = scoped(query, "channel_id", filter.Scope.ChannelID)
	query = scoped(query, "price_list_id", filter.Scope.PriceListID)

	var items []recorddomain.PriceRecord
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// scoped keeps rows that are unbound on column or bound to id.
func scoped(query *gorm.DB, column string, id *snowflake.ID) *gorm.DB {
	if id == nil {
		return query.Where(column + " IS NULL")
	}
	return query.Where("("+column+" IS NULL OR "+column+" = ?)", *id)
}

func (r *repo) ListWindowBoundaries(ctx context.Context, db *gorm.DB, from, to time.Time) ([]recorddomain.WindowBoundary, error) {
	var items []recorddomain.WindowBoundary
	err := db.WithContext(ctx).
		Model(&recorddomain.PriceRecord{}).
		Distinct("variant_id", "currency").
		Where("(starts_at > ? AND starts_at <= ?) OR (ends_at >= ? AND ends_at < ?)", from, to, from, to).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
