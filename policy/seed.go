package policy

import (
	"context"
	"fmt"

	"checkout-svc/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Coupon{},
		&models.DeliveryPolicy{},
		&models.PaymentPolicy{},
		&models.CODSecurityPolicy{},
	)
}

func intPtr(v int) *int { return &v }

// SeedDefaults inserts a starting policy into each empty policy table.
func SeedDefaults(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	defaults := []any{
		&models.DeliveryPolicy{
			FreeDeliveryMinAmount: decimal.NewFromInt(499),
			DefaultFee:            decimal.NewFromInt(49),
			IsActive:              true,
		},
		&models.PaymentPolicy{
			CODMaxAmount:    decimal.NewFromInt(5000),
			IsCODEnabled:    true,
			DisabledMessage: "Cash on delivery is currently unavailable",
		},
		&models.CODSecurityPolicy{
			OTPRequired:               true,
			MaxPerPhonePerDay:         intPtr(3),
			MaxPerIPPerDay:            intPtr(10),
			MaxAttemptsPerHour:        intPtr(5),
			PhoneVerificationRequired: true,
		},
	}

	for _, d := range defaults {
		var count int64
		if err := db.WithContext(ctx).Model(d).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count %T: %w", d, err)
		}
		if count > 0 {
			continue
		}
		if err := db.WithContext(ctx).Create(d).Error; err != nil {
			return fmt.Errorf("failed to seed %T: %w", d, err)
		}
		logger.Info("Seeded default policy", zap.String("policy", fmt.Sprintf("%T", d)))
	}
	return nil
}
