package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/currency"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	"github.com/railzwaylabs/pricing/internal/pricingcontext"
	scopedomain "github.com/railzwaylabs/pricing/internal/scope/domain"
	"github.com/railzwaylabs/pricing/pkg/db/pagination"
	"github.com/railzwaylabs/pricing/pkg/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Currencies  *currency.Registry
	Scopes      scopedomain.Lookup
	Repo        recorddomain.Repository
	Invalidator recorddomain.Invalidator
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	currencies  *currency.Registry
	scopes      scopedomain.Lookup
	repo        recorddomain.Repository
	invalidator recorddomain.Invalidator
}

func New(p Params) recorddomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("pricerecord.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		currencies:  p.Currencies,
		scopes:      p.Scopes,
		repo:        p.Repo,
		invalidator: p.Invalidator,
	}
}

func (s *Service) Create(ctx context.Context, req recorddomain.CreateRequest) (*recorddomain.PriceRecord, error) {
	if err := validation.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", recorddomain.ErrInvalidRequest, err)
	}

	variantID, err := parseID(req.VariantID)
	if err != nil || variantID == 0 {
		return nil, recorddomain.ErrInvalidVariant
	}

	code, err := s.currencies.Normalize(req.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", recorddomain.ErrInvalidCurrency, err)
	}

	if req.Amount < 0 {
		return nil, recorddomain.ErrInvalidAmount
	}

	minQty := req.MinQuantity
	if minQty == 0 {
		minQty = 1
	}
	if minQty < 1 || (req.MaxQuantity != nil && *req.MaxQuantity < minQty) {
		return nil, recorddomain.ErrInvalidQuantity
	}

	if req.StartsAt != nil && req.EndsAt != nil && req.EndsAt.Before(*req.StartsAt) {
		return nil, recorddomain.ErrInvalidWindow
	}

	var taxRate *decimal.Decimal
	if req.TaxRate != nil && strings.TrimSpace(*req.TaxRate) != "" {
		rate, err := decimal.NewFromString(strings.TrimSpace(*req.TaxRate))
		if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, recorddomain.ErrInvalidTaxRate
		}
		taxRate = &rate
	}

	scope, err := s.resolveScope(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now(ctx)
	record := &recorddomain.PriceRecord{
		ID:              s.genID.Generate(),
		VariantID:       variantID,
		MarketID:        scope.MarketID,
		SiteID:          scope.SiteID,
		ChannelID:       scope.ChannelID,
		PriceListID:     scope.PriceListID,
		Currency:        code,
		Amount:          req.Amount,
		CompareAtAmount: req.CompareAtAmount,
		CostAmount:      req.CostAmount,
		TaxIncluded:     req.TaxIncluded,
		TaxRate:         taxRate,
		MinQuantity:     minQty,
		MaxQuantity:     req.MaxQuantity,
		StartsAt:        utcPtr(req.StartsAt),
		EndsAt:          utcPtr(req.EndsAt),
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		return nil, err
	}

	s.invalidate(ctx, record)
	s.log.Info("price record created",
		zap.String("price_record_id", record.ID.String()),
		zap.String("variant_id", record.VariantID.String()),
		zap.String("currency", record.Currency),
		zap.Int64("amount", record.Amount),
	)
	return record, nil
}

// resolveScope parses the scope ids and checks that referenced markets, sites
// and channels exist and that a site bound to a market agrees with it.
func (s *Service) resolveScope(ctx context.Context, req recorddomain.CreateRequest) (recorddomain.Scope, error) {
	var scope recorddomain.Scope
	var err error

	if scope.MarketID, err = parseOptionalID(req.MarketID); err != nil {
		return scope, recorddomain.ErrInvalidScope
	}
	if scope.SiteID, err = parseOptionalID(req.SiteID); err != nil {
		return scope, recorddomain.ErrInvalidScope
	}
	if scope.ChannelID, err = parseOptionalID(req.ChannelID); err != nil {
		return scope, recorddomain.ErrInvalidScope
	}
	if scope.PriceListID, err = parseOptionalID(req.PriceListID); err != nil {
		return scope, recorddomain.ErrInvalidScope
	}

	if scope.MarketID != nil {
		if _, err := s.scopes.MarketByID(ctx, *scope.MarketID); err != nil {
			return scope, scopeErr(err)
		}
	}
	if scope.SiteID != nil {
		site, err := s.scopes.SiteByID(ctx, *scope.SiteID)
		if err != nil {
			return scope, scopeErr(err)
		}
		if site.MarketID != nil && scope.MarketID != nil && *site.MarketID != *scope.MarketID {
			return scope, fmt.Errorf("%w: site %s belongs to another market", recorddomain.ErrInvalidScope, site.ID)
		}
	}
	if scope.ChannelID != nil {
		if _, err := s.scopes.ChannelByID(ctx, *scope.ChannelID); err != nil {
			return scope, scopeErr(err)
		}
	}
	return scope, nil
}

func scopeErr(err error) error {
	if errors.Is(err, scopedomain.ErrMarketNotFound) ||
		errors.Is(err, scopedomain.ErrSiteNotFound) ||
		errors.Is(err, scopedomain.ErrChannelNotFound) {
		return fmt.Errorf("%w: %w", recorddomain.ErrInvalidScope, err)
	}
	return err
}

func (s *Service) Get(ctx context.Context, id string) (*recorddomain.PriceRecord, error) {
	recordID, err := parseID(id)
	if err != nil {
		return nil, recorddomain.ErrNotFound
	}
	record, err := s.repo.FindByID(ctx, s.db, recordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, recorddomain.ErrNotFound
	}
	return record, nil
}

func (s *Service) List(ctx context.Context, req recorddomain.ListRequest) (recorddomain.ListResponse, error) {
	opts := recorddomain.ListOptions{ActiveOnly: req.ActiveOnly}

	var err error
	if opts.VariantID, err = parseOptionalID(req.VariantID); err != nil {
		return recorddomain.ListResponse{}, recorddomain.ErrInvalidVariant
	}
	if opts.MarketID, err = parseOptionalID(req.MarketID); err != nil {
		return recorddomain.ListResponse{}, recorddomain.ErrInvalidScope
	}
	if code := strings.TrimSpace(req.Currency); code != "" {
		opts.Currency = strings.ToUpper(code)
	}

	page := req.Pagination.Normalize()
	items, err := s.repo.List(ctx, s.db, opts, page)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return recorddomain.ListResponse{}, fmt.Errorf("%w: %w", recorddomain.ErrInvalidRequest, err)
		}
		return recorddomain.ListResponse{}, err
	}

	items, info := pagination.BuildCursorPageInfo(items, page.PageSize, func(item *recorddomain.PriceRecord) pagination.Cursor {
		return pagination.Cursor{ID: int64(item.ID), CreatedAt: item.CreatedAt}
	})

	out := make([]recorddomain.PriceRecord, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return recorddomain.ListResponse{Items: out, PageInfo: info}, nil
}

func (s *Service) Retire(ctx context.Context, id string) (*recorddomain.PriceRecord, error) {
	recordID, err := parseID(id)
	if err != nil {
		return nil, recorddomain.ErrNotFound
	}

	var record *recorddomain.PriceRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByID(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if existing == nil {
			return recorddomain.ErrNotFound
		}
		if existing.RetiredAt != nil {
			return recorddomain.ErrAlreadyRetired
		}

		now := s.clock.Now(ctx)
		ok, err := s.repo.Retire(ctx, tx, recordID, now)
		if err != nil {
			return err
		}
		if !ok {
			return recorddomain.ErrAlreadyRetired
		}
		existing.IsActive = false
		existing.RetiredAt = &now
		existing.UpdatedAt = now
		record = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Versions are bumped only after commit so no reader can cache the
	// pre-retire winner under the new version.
	s.invalidate(ctx, record)
	s.log.Info("price record retired", zap.String("price_record_id", record.ID.String()))
	return record, nil
}

func (s *Service) invalidate(ctx context.Context, record *recorddomain.PriceRecord) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, pricingcontext.VariantTag(record.VariantID)); err != nil {
		s.log.Warn("failed to invalidate cached resolutions",
			zap.String("variant_id", record.VariantID.String()),
			zap.Error(err),
		)
	}
}

func parseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(value))
}

func parseOptionalID(value string) (*snowflake.ID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(value)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, errors.New("zero id")
	}
	return &id, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
