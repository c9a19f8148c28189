package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/config"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
	"github.com/railzwaylabs/pricing/internal/pricerule/repository"
	"github.com/railzwaylabs/pricing/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ruledomain.PriceRule{}, &ruledomain.PriceRuleUsage{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Config: config.Config{Pricing: config.PricingConfig{DefaultEntityType: "variant"}},
		GenID:  node,
		Clock:  clock.Fixed{At: now},
		Repo:   repository.Provide(),
	})
	return svc.(*Service), db
}

func rule(id int64, priority int, kind ruledomain.DiscountType, value string, stop bool) ruledomain.PriceRule {
	return ruledomain.PriceRule{
		ID:               snowflake.ID(id),
		Name:             "rule",
		IsActive:         true,
		Priority:         priority,
		EntityType:       "variant",
		DiscountType:     kind,
		DiscountValue:    decimal.RequireFromString(value),
		StopFurtherRules: stop,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestApplyStopsChain(t *testing.T) {
	svc, _ := setup(t)

	rules := []ruledomain.PriceRule{
		rule(3, 1, ruledomain.DiscountOverride, "1", false),
		rule(2, 5, ruledomain.DiscountFixed, "5", true),
		rule(1, 10, ruledomain.DiscountPercent, "10", false),
	}

	res := svc.Apply(context.Background(), decimal.NewFromInt(100), rules, now)

	require.Len(t, res.Applied, 2)
	assert.Equal(t, snowflake.ID(1), res.Applied[0].RuleID)
	assert.True(t, decimal.NewFromInt(90).Equal(res.Applied[0].After))
	assert.Equal(t, snowflake.ID(2), res.Applied[1].RuleID)
	assert.True(t, decimal.NewFromInt(85).Equal(res.Applied[1].After))
	assert.True(t, decimal.NewFromInt(85).Equal(res.Final))
	assert.True(t, decimal.NewFromInt(100).Equal(res.Original))
	require.NotNil(t, res.StoppedBy)
	assert.Equal(t, snowflake.ID(2), *res.StoppedBy)
	assert.Empty(t, res.Skipped)

	// input order is untouched
	assert.Equal(t, snowflake.ID(3), rules[0].ID)
}

func TestApplySkipsInvalidRules(t *testing.T) {
	svc, _ := setup(t)

	expired := rule(1, 10, ruledomain.DiscountPercent, "50", false)
	ended := now.Add(-time.Minute)
	expired.EndsAt = &ended

	broken := rule(2, 9, ruledomain.DiscountPercent, "150", false)

	limit := int64(1)
	exhausted := rule(3, 8, ruledomain.DiscountFixed, "10", false)
	exhausted.UsageLimit = &limit
	exhausted.UsageCount = 1

	ok := rule(4, 1, ruledomain.DiscountFixed, "200", false)

	res := svc.Apply(context.Background(), decimal.NewFromInt(100), []ruledomain.PriceRule{expired, broken, exhausted, ok}, now)

	require.Len(t, res.Applied, 1)
	assert.True(t, res.Final.IsZero(), "clamped at zero, got %s", res.Final)
	assert.Equal(t, []ruledomain.Skip{
		{RuleID: 1, Reason: ruledomain.SkipEnded},
		{RuleID: 2, Reason: ruledomain.SkipInvalidDefinition},
		{RuleID: 3, Reason: ruledomain.SkipUsageLimitReached},
	}, res.Skipped)
	assert.Nil(t, res.StoppedBy)
}

func TestApplyTieBreaksByID(t *testing.T) {
	svc, _ := setup(t)

	res := svc.Apply(context.Background(), decimal.NewFromInt(100), []ruledomain.PriceRule{
		rule(9, 5, ruledomain.DiscountOverride, "70", false),
		rule(4, 5, ruledomain.DiscountOverride, "60", false),
	}, now)

	require.Len(t, res.Applied, 2)
	assert.Equal(t, snowflake.ID(4), res.Applied[0].RuleID)
	assert.True(t, decimal.NewFromInt(70).Equal(res.Final))
}

func TestApplicableRules(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	future := now.Add(time.Hour)
	customer := snowflake.ID(77)
	perCustomer := int64(1)

	global := rule(1, 10, ruledomain.DiscountPercent, "10", false)

	targeted := rule(2, 20, ruledomain.DiscountFixed, "1", false)
	targeted.EntityIDs = datatypes.JSONSlice[string]{"500"}

	other := rule(3, 30, ruledomain.DiscountFixed, "1", false)
	other.EntityIDs = datatypes.JSONSlice[string]{"501"}

	upcoming := rule(4, 40, ruledomain.DiscountFixed, "1", false)
	upcoming.StartsAt = &future

	inactive := rule(5, 50, ruledomain.DiscountFixed, "1", false)

	vipOnly := rule(6, 5, ruledomain.DiscountFixed, "2", false)
	vipOnly.Conditions = datatypes.NewJSONType(ruledomain.Condition{Op: ruledomain.OpEq, Field: ruledomain.FieldCustomerGroup, Value: "vip"})

	oncePerCustomer := rule(7, 1, ruledomain.DiscountFixed, "3", false)
	oncePerCustomer.UsageLimitPerCustomer = &perCustomer

	otherType := rule(8, 99, ruledomain.DiscountFixed, "1", false)
	otherType.EntityType = "category"

	for _, r := range []ruledomain.PriceRule{global, targeted, other, upcoming, inactive, vipOnly, oncePerCustomer, otherType} {
		require.NoError(t, db.Create(&r).Error)
	}
	require.NoError(t, db.Model(&ruledomain.PriceRule{}).Where("id = ?", 5).Update("is_active", false).Error)
	require.NoError(t, db.Create(&ruledomain.PriceRuleUsage{
		ID: 1, PriceRuleID: 7, CustomerID: &customer, OrderID: uuid.NewString(), Currency: "USD", CreatedAt: now,
	}).Error)

	ids := func(rules []ruledomain.PriceRule) []snowflake.ID {
		out := make([]snowflake.ID, 0, len(rules))
		for _, r := range rules {
			out = append(out, r.ID)
		}
		return out
	}

	got, err := svc.ApplicableRules(ctx, ruledomain.Query{EntityID: "500", Facts: ruledomain.Facts{Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{2, 1, 7}, ids(got))

	got, err = svc.ApplicableRules(ctx, ruledomain.Query{EntityID: "500", Facts: ruledomain.Facts{CustomerGroup: "VIP"}})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{2, 1, 6, 7}, ids(got))

	got, err = svc.ApplicableRules(ctx, ruledomain.Query{EntityID: "500", CustomerID: &customer})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{2, 1}, ids(got))

	got, err = svc.ApplicableRules(ctx, ruledomain.Query{EntityID: "500", At: future.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{4, 2, 1, 7}, ids(got))

	got, err = svc.ApplicableRules(ctx, ruledomain.Query{EntityType: "category", EntityID: "x"})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{8}, ids(got))
}

func TestRecordUsage(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	limit := int64(2)
	perCustomer := int64(1)
	r := rule(1, 1, ruledomain.DiscountFixed, "5", false)
	r.UsageLimit = &limit
	r.UsageLimitPerCustomer = &perCustomer
	require.NoError(t, db.Create(&r).Error)

	alice := snowflake.ID(10)
	bob := snowflake.ID(11)
	req := func(customer *snowflake.ID) ruledomain.RecordUsageRequest {
		return ruledomain.RecordUsageRequest{
			PriceRuleID:    1,
			CustomerID:     customer,
			OrderID:        uuid.NewString(),
			DiscountAmount: 500,
			Currency:       "usd",
		}
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		usage, err := svc.RecordUsage(ctx, tx, req(&alice))
		if err != nil {
			return err
		}
		assert.Equal(t, "USD", usage.Currency)
		return nil
	})
	require.NoError(t, err)

	_, err = svc.RecordUsage(ctx, db, req(&alice))
	assert.ErrorIs(t, err, ruledomain.ErrUsageLimitReached)

	_, err = svc.RecordUsage(ctx, db, req(&bob))
	require.NoError(t, err)

	_, err = svc.RecordUsage(ctx, db, req(nil))
	assert.ErrorIs(t, err, ruledomain.ErrUsageLimitReached)

	var stored ruledomain.PriceRule
	require.NoError(t, db.First(&stored, "id = ?", 1).Error)
	assert.Equal(t, int64(2), stored.UsageCount)

	var rows int64
	require.NoError(t, db.Model(&ruledomain.PriceRuleUsage{}).Count(&rows).Error)
	assert.Equal(t, int64(2), rows)
}

func TestRecordUsageRollsBackWithCaller(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	r := rule(1, 1, ruledomain.DiscountFixed, "5", false)
	require.NoError(t, db.Create(&r).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.RecordUsage(ctx, tx, ruledomain.RecordUsageRequest{
			PriceRuleID: 1, OrderID: uuid.NewString(), Currency: "USD",
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var stored ruledomain.PriceRule
	require.NoError(t, db.First(&stored, "id = ?", 1).Error)
	assert.Zero(t, stored.UsageCount)
}

func TestRecordUsageValidation(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.RecordUsage(ctx, nil, ruledomain.RecordUsageRequest{PriceRuleID: 1, OrderID: "order-1", Currency: "USD"})
	assert.ErrorIs(t, err, ruledomain.ErrInvalidOrderID)

	_, err = svc.RecordUsage(ctx, nil, ruledomain.RecordUsageRequest{PriceRuleID: 1, OrderID: uuid.NewString(), Currency: "US"})
	assert.ErrorIs(t, err, ruledomain.ErrInvalidRequest)

	_, err = svc.RecordUsage(ctx, nil, ruledomain.RecordUsageRequest{PriceRuleID: 404, OrderID: uuid.NewString(), Currency: "USD"})
	assert.ErrorIs(t, err, ruledomain.ErrNotFound)
}

func TestCreate(t *testing.T) {
	tests := []struct {
		name    string
		req     ruledomain.CreateRequest
		wantErr error
	}{
		{
			name: "percent with conditions",
			req: ruledomain.CreateRequest{
				Name: " Summer sale ", EntityType: "Variant", EntityIDs: []string{" 100 "},
				DiscountType: "percent", DiscountValue: "15",
				Conditions: &ruledomain.Condition{Op: ruledomain.OpGte, Field: ruledomain.FieldQuantity, Value: "2"},
			},
		},
		{name: "missing name", req: ruledomain.CreateRequest{EntityType: "variant", DiscountType: "fixed", DiscountValue: "1"}, wantErr: ruledomain.ErrInvalidRequest},
		{name: "unknown discount type", req: ruledomain.CreateRequest{Name: "x", EntityType: "variant", DiscountType: "bogo", DiscountValue: "1"}, wantErr: ruledomain.ErrInvalidRequest},
		{name: "bad value", req: ruledomain.CreateRequest{Name: "x", EntityType: "variant", DiscountType: "fixed", DiscountValue: "abc"}, wantErr: ruledomain.ErrInvalidDiscountValue},
		{name: "percent over 100", req: ruledomain.CreateRequest{Name: "x", EntityType: "variant", DiscountType: "percent", DiscountValue: "120"}, wantErr: ruledomain.ErrInvalidDiscountValue},
		{
			name: "bad condition",
			req: ruledomain.CreateRequest{
				Name: "x", EntityType: "variant", DiscountType: "fixed", DiscountValue: "1",
				Conditions: &ruledomain.Condition{Op: "between", Field: ruledomain.FieldQuantity, Value: "1"},
			},
			wantErr: ruledomain.ErrInvalidCondition,
		},
		{
			name: "inverted window",
			req: ruledomain.CreateRequest{
				Name: "x", EntityType: "variant", DiscountType: "fixed", DiscountValue: "1",
				StartsAt: ptr(now.Add(time.Hour)), EndsAt: ptr(now),
			},
			wantErr: ruledomain.ErrInvalidWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := setup(t)
			got, err := svc.Create(context.Background(), tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Summer sale", got.Name)
			assert.Equal(t, "variant", got.EntityType)
			assert.Equal(t, []string{"100"}, []string(got.EntityIDs))
			assert.True(t, got.IsActive)

			loaded, err := svc.Get(context.Background(), got.ID.String())
			require.NoError(t, err)
			assert.Equal(t, ruledomain.FieldQuantity, loaded.Conditions.Data().Field)
			assert.True(t, decimal.NewFromInt(15).Equal(loaded.DiscountValue))
		})
	}
}

func TestGetAndDeactivate(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "nope")
	assert.ErrorIs(t, err, ruledomain.ErrNotFound)

	created, err := svc.Create(ctx, ruledomain.CreateRequest{Name: "x", EntityType: "variant", DiscountType: "fixed", DiscountValue: "1"})
	require.NoError(t, err)

	got, err := svc.Deactivate(ctx, created.ID.String())
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = svc.Deactivate(ctx, created.ID.String())
	assert.ErrorIs(t, err, ruledomain.ErrAlreadyInactive)

	_, err = svc.Deactivate(ctx, "12345")
	assert.ErrorIs(t, err, ruledomain.ErrNotFound)

	rules, err := svc.ApplicableRules(ctx, ruledomain.Query{EntityID: "1"})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestList(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		r := rule(i, 1, ruledomain.DiscountFixed, "1", false)
		r.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, db.Create(&r).Error)
	}

	first, err := svc.List(ctx, ruledomain.ListRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, snowflake.ID(3), first.Items[0].ID)
	assert.True(t, first.PageInfo.HasMore)

	second, err := svc.List(ctx, ruledomain.ListRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.PageInfo.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, snowflake.ID(1), second.Items[0].ID)
	assert.False(t, second.PageInfo.HasMore)

	_, err = svc.List(ctx, ruledomain.ListRequest{Pagination: pagination.Pagination{PageToken: "!!"}})
	assert.ErrorIs(t, err, ruledomain.ErrInvalidRequest)
}

func ptr[T any](v T) *T { return &v }

func TestApplicableRulesFor(t *testing.T) {
	svc, db := setup(t)

	global := rule(1, 1, ruledomain.DiscountPercent, "10", false)
	only100 := rule(2, 2, ruledomain.DiscountFixed, "1", false)
	only100.EntityIDs = datatypes.JSONSlice[string]{"100"}
	for _, r := range []ruledomain.PriceRule{global, only100} {
		require.NoError(t, db.Create(&r).Error)
	}

	got, err := svc.ApplicableRulesFor(context.Background(), ruledomain.Query{}, []string{"100", "200"})
	require.NoError(t, err)
	require.Len(t, got["100"], 2)
	assert.Equal(t, snowflake.ID(2), got["100"][0].ID)
	require.Len(t, got["200"], 1)
	assert.Equal(t, snowflake.ID(1), got["200"][0].ID)
}

func TestApplicableRulesForEntityFacts(t *testing.T) {
	svc, db := setup(t)

	r := rule(1, 1, ruledomain.DiscountFixed, "1", false)
	r.Conditions = datatypes.NewJSONType(ruledomain.Condition{Op: ruledomain.OpGte, Field: ruledomain.FieldSubtotal, Value: "6"})
	require.NoError(t, db.Create(&r).Error)

	got, err := svc.ApplicableRulesFor(context.Background(), ruledomain.Query{
		EntityFacts: map[string]ruledomain.Facts{
			"100": {Subtotal: decimal.NewFromInt(5)},
			"200": {Subtotal: decimal.NewFromInt(7)},
		},
	}, []string{"100", "200", "300"})
	require.NoError(t, err)
	assert.Empty(t, got["100"])
	require.Len(t, got["200"], 1)
	assert.Equal(t, snowflake.ID(1), got["200"][0].ID)
	assert.Empty(t, got["300"], "entities without facts fall back to the shared facts")
}

func TestRecordUsageLocksRule(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	r := rule(1, 1, ruledomain.DiscountFixed, "5", false)
	require.NoError(t, db.Create(&r).Error)

	var locked atomic.Bool
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:locking", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Clauses["FOR"]; ok {
			locked.Store(true)
		}
	}))

	_, err := svc.RecordUsage(ctx, nil, ruledomain.RecordUsageRequest{
		PriceRuleID: 1, OrderID: uuid.NewString(), Currency: "USD",
	})
	require.NoError(t, err)
	assert.True(t, locked.Load())
}

func TestRecordUsageConcurrentCheckouts(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	perCustomer := int64(1)
	r := rule(1, 1, ruledomain.DiscountFixed, "5", false)
	r.UsageLimitPerCustomer = &perCustomer
	require.NoError(t, db.Create(&r).Error)

	customer := snowflake.ID(10)
	const checkouts = 4
	errs := make([]error, checkouts)
	var wg sync.WaitGroup
	for i := 0; i < checkouts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.Transaction(func(tx *gorm.DB) error {
				_, err := svc.RecordUsage(ctx, tx, ruledomain.RecordUsageRequest{
					PriceRuleID: 1, CustomerID: &customer, OrderID: uuid.NewString(), Currency: "USD",
				})
				return err
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ruledomain.ErrUsageLimitReached)
	}
	assert.Equal(t, 1, succeeded)

	var rows int64
	require.NoError(t, db.Model(&ruledomain.PriceRuleUsage{}).Where("customer_id = ?", customer).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}
