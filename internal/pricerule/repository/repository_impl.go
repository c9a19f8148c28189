package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
	"github.com/railzwaylabs/pricing/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ruledomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rule *ruledomain.PriceRule) error {
	return db.WithContext(ctx).Create(rule).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ruledomain.PriceRule, error) {
	var rule ruledomain.PriceRule
	err := db.WithContext(ctx).Where("id = ?", id).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ruledomain.PriceRule, error) {
	return r.FindByID(ctx, db.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, opts ruledomain.ListOptions, page pagination.Pagination) ([]*ruledomain.PriceRule, error) {
	var items []*ruledomain.PriceRule

	query := db.WithContext(ctx).Model(&ruledomain.PriceRule{})
	if opts.EntityType != "" {
		query = query.Where("entity_type = ?", opts.EntityType)
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

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&ruledomain.PriceRule{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListCandidates(ctx context.Context, db *gorm.DB, entityType string, at time.Time) ([]ruledomain.PriceRule, error) {
	var items []ruledomain.PriceRule
	err := db.WithContext(ctx).
		Model(&ruledomain.PriceRule{}).
		Where("entity_type = ?", entityType).
		Where("is_active = ?", true).
		Where("(starts_at IS NULL OR starts_at <= ?)", at).
		Where("(ends_at IS NULL OR ends_at >= ?)", at).
		Order("priority desc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountCustomerUsage(ctx context.Context, db *gorm.DB, ruleIDs []snowflake.ID, customerID snowflake.ID) (map[snowflake.ID]int64, error) {
	out := make(map[snowflake.ID]int64, len(ruleIDs))
	if len(ruleIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		PriceRuleID snowflake.ID
		Uses        int64
	}
	err := db.WithContext(ctx).
		Model(&ruledomain.PriceRuleUsage{}).
		Select("price_rule_id, COUNT(*) AS uses").
		Where("price_rule_id IN ?", ruleIDs).
		Where("customer_id = ?", customerID).
		Group("price_rule_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.PriceRuleID] = row.Uses
	}
	return out, nil
}

func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, ruleID snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).
		Model(&ruledomain.PriceRule{}).
		Where("id = ?", ruleID).
		Where("(usage_limit IS NULL OR usage_count < usage_limit)").
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *ruledomain.PriceRuleUsage) error {
	return db.WithContext(ctx).Create(usage).Error
}
