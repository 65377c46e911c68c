// Package policy reads the operator-managed pricing and COD policies.
// Records live in Postgres and are cached in Redis for a few minutes.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-svc/cache"
	"checkout-svc/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keyDelivery = "policy:delivery"
	keyPayment  = "policy:payment"
	keySecurity = "policy:cod_security"
	couponKey   = "policy:coupon:"
)

// Snapshot is every policy a checkout needs, read once per request.
type Snapshot struct {
	Coupon   *models.Coupon
	Delivery *models.DeliveryPolicy
	Payment  *models.PaymentPolicy
	Security *models.CODSecurityPolicy
}

type Store struct {
	db     *gorm.DB
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewStore(db *gorm.DB, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{db: db, rdb: rdb, ttl: ttl, logger: logger}
}

// Load reads the current policies and, when couponCode is set, its coupon.
// A missing coupon is reported as a nil Coupon.
func (s *Store) Load(ctx context.Context, couponCode string) (*Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Delivery, err = s.DeliveryPolicy(ctx); err != nil {
		return nil, err
	}
	if snap.Payment, err = s.PaymentPolicy(ctx); err != nil {
		return nil, err
	}
	if snap.Security, err = s.CODSecurityPolicy(ctx); err != nil {
		return nil, err
	}
	if code := models.NormalizeCouponCode(couponCode); code != "" {
		if snap.Coupon, err = s.Coupon(ctx, code); err != nil {
			return nil, err
		}
	}
	return &snap, nil
}

func (s *Store) Coupon(ctx context.Context, code string) (*models.Coupon, error) {
	code = models.NormalizeCouponCode(code)
	return readThrough(ctx, s, couponKey+code, func(db *gorm.DB, c *models.Coupon) error {
		return db.Where("code = ?", code).First(c).Error
	})
}

func (s *Store) DeliveryPolicy(ctx context.Context) (*models.DeliveryPolicy, error) {
	return readThrough(ctx, s, keyDelivery, latest[models.DeliveryPolicy])
}

func (s *Store) PaymentPolicy(ctx context.Context) (*models.PaymentPolicy, error) {
	return readThrough(ctx, s, keyPayment, latest[models.PaymentPolicy])
}

func (s *Store) CODSecurityPolicy(ctx context.Context) (*models.CODSecurityPolicy, error) {
	return readThrough(ctx, s, keySecurity, latest[models.CODSecurityPolicy])
}

// Invalidate drops cached policies so the next read goes to the database.
func (s *Store) Invalidate(ctx context.Context, couponCodes ...string) error {
	keys := []string{keyDelivery, keyPayment, keySecurity}
	for _, c := range couponCodes {
		keys = append(keys, couponKey+models.NormalizeCouponCode(c))
	}
	if s.rdb == nil {
		return nil
	}
	return cache.Delete(ctx, s.rdb, keys...)
}

// Seed inserts missing default policies and drops whatever was cached before.
func (s *Store) Seed(ctx context.Context) error {
	if err := SeedDefaults(ctx, s.db, s.logger); err != nil {
		return err
	}
	if err := s.Invalidate(ctx); err != nil {
		return fmt.Errorf("failed to invalidate policy cache: %w", err)
	}
	return nil
}

func latest[T any](db *gorm.DB, dst *T) error {
	return db.Order("id DESC").First(dst).Error
}

// readThrough returns nil, nil when the record does not exist. Cache errors
// are logged and the database is used instead.
func readThrough[T any](ctx context.Context, s *Store, key string, query func(*gorm.DB, *T) error) (*T, error) {
	var v T
	if s.rdb != nil {
		hit, err := cache.GetJSON(ctx, s.rdb, key, &v)
		if err != nil {
			s.logger.Warn("Policy cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			return &v, nil
		}
	}

	if err := query(s.db.WithContext(ctx), &v); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}

	if s.rdb != nil {
		if err := cache.SetJSON(ctx, s.rdb, key, &v, s.ttl); err != nil {
			s.logger.Warn("Policy cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return &v, nil
}
