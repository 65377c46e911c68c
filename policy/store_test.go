package policy

import (
	"context"
	"testing"
	"time"

	"checkout-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupPolicyStore(t *testing.T, withCache bool) (*Store, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)

	if !withCache {
		return NewStore(gdb, nil, time.Minute, zaptest.NewLogger(t)), mock, nil
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(gdb, rdb, time.Minute, zaptest.NewLogger(t)), mock, mr
}

func couponRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "code", "discount_type", "discount_value", "max_discount", "min_order_value", "expires_at", "is_active", "created_at", "updated_at"}).
		AddRow(1, "SAVE20", "percent", "20.00", "150.00", "0.00", nil, true, now, now)
}

func TestCoupon_ReadThroughCache(t *testing.T) {
	s, mock, mr := setupPolicyStore(t, true)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "coupons"`).WillReturnRows(couponRows())

	c, err := s.Coupon(ctx, " save20 ")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.DiscountPercent, c.DiscountType)
	require.NotNil(t, c.MaxDiscount)
	assert.True(t, c.MaxDiscount.Equal(decimal.NewFromInt(150)))
	assert.True(t, mr.Exists("policy:coupon:SAVE20"))

	// Served from Redis; no second query is expected.
	c, err = s.Coupon(ctx, "SAVE20")
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", c.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoupon_NotFound(t *testing.T) {
	s, mock, _ := setupPolicyStore(t, false)

	mock.ExpectQuery(`SELECT \* FROM "coupons"`).WillReturnError(gorm.ErrRecordNotFound)

	c, err := s.Coupon(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestLoad_Snapshot(t *testing.T) {
	s, mock, _ := setupPolicyStore(t, false)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM "delivery_policies"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "free_delivery_min_amount", "default_fee", "is_active", "updated_at"}).
			AddRow(1, "500.00", "40.00", true, now))
	mock.ExpectQuery(`SELECT \* FROM "payment_policies"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cod_max_amount", "is_cod_enabled", "disabled_message", "updated_at"}).
			AddRow(1, "2000.00", true, "", now))
	mock.ExpectQuery(`SELECT \* FROM "cod_security_policies"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "otp_required", "max_per_phone_per_day", "max_per_ip_per_day", "max_attempts_per_hour", "phone_verification_required", "updated_at"}).
			AddRow(1, true, 3, nil, 5, true, now))

	snap, err := s.Load(context.Background(), "")
	require.NoError(t, err)

	assert.Nil(t, snap.Coupon)
	assert.True(t, snap.Delivery.FreeDeliveryMinAmount.Equal(decimal.NewFromInt(500)))
	assert.True(t, snap.Payment.CODMaxAmount.Equal(decimal.NewFromInt(2000)))
	require.NotNil(t, snap.Security.MaxPerPhonePerDay)
	assert.Equal(t, 3, *snap.Security.MaxPerPhonePerDay)
	assert.Nil(t, snap.Security.MaxPerIPPerDay)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidate(t *testing.T) {
	s, _, mr := setupPolicyStore(t, true)

	require.NoError(t, mr.Set("policy:delivery", "{}"))
	require.NoError(t, mr.Set("policy:coupon:SAVE20", "{}"))

	require.NoError(t, s.Invalidate(context.Background(), "save20"))
	assert.False(t, mr.Exists("policy:delivery"))
	assert.False(t, mr.Exists("policy:coupon:SAVE20"))
}

func expectPolicyCounts(mock sqlmock.Sqlmock, n int) {
	for _, table := range []string{"delivery_policies", "payment_policies", "cod_security_policies"} {
		mock.ExpectQuery(`SELECT count\(\*\) FROM "` + table + `"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
	}
}

func TestSeed_InvalidatesCache(t *testing.T) {
	s, mock, mr := setupPolicyStore(t, true)
	require.NoError(t, mr.Set("policy:delivery", `{"default_fee":"99"}`))
	require.NoError(t, mr.Set("policy:payment", "{}"))
	require.NoError(t, mr.Set("policy:cod_security", "{}"))

	expectPolicyCounts(mock, 1)

	require.NoError(t, s.Seed(context.Background()))
	assert.False(t, mr.Exists("policy:delivery"))
	assert.False(t, mr.Exists("policy:payment"))
	assert.False(t, mr.Exists("policy:cod_security"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_WithoutCache(t *testing.T) {
	s, mock, _ := setupPolicyStore(t, false)
	expectPolicyCounts(mock, 1)

	require.NoError(t, s.Seed(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
