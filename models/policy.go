package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFlat    DiscountType = "flat"
)

type Coupon struct {
	ID            int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	Code          string           `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	DiscountType  DiscountType     `gorm:"type:varchar(16);not null" json:"discount_type"`
	DiscountValue decimal.Decimal  `gorm:"type:numeric(12,2);not null" json:"discount_value"`
	MaxDiscount   *decimal.Decimal `gorm:"type:numeric(12,2)" json:"max_discount,omitempty"`
	MinOrderValue decimal.Decimal  `gorm:"type:numeric(12,2);not null;default:0" json:"min_order_value"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	IsActive      bool             `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NormalizeCouponCode folds a submitted code to its stored form.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type DeliveryPolicy struct {
	ID                    int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	FreeDeliveryMinAmount decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"free_delivery_min_amount"`
	DefaultFee            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"default_fee"`
	IsActive              bool            `gorm:"not null;default:true" json:"is_active"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

type PaymentPolicy struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CODMaxAmount    decimal.Decimal `gorm:"column:cod_max_amount;type:numeric(12,2);not null" json:"cod_max_amount"`
	IsCODEnabled    bool            `gorm:"column:is_cod_enabled;not null;default:true" json:"is_cod_enabled"`
	DisabledMessage string          `gorm:"type:varchar(255)" json:"disabled_message"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CODSecurityPolicy ceilings are unbounded when nil or zero.
type CODSecurityPolicy struct {
	ID                        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OTPRequired               bool      `gorm:"column:otp_required;not null;default:true" json:"otp_required"`
	MaxPerPhonePerDay         *int      `json:"max_per_phone_per_day,omitempty"`
	MaxPerIPPerDay            *int      `gorm:"column:max_per_ip_per_day" json:"max_per_ip_per_day,omitempty"`
	MaxAttemptsPerHour        *int      `json:"max_attempts_per_hour,omitempty"`
	PhoneVerificationRequired bool      `gorm:"not null;default:true" json:"phone_verification_required"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

func (CODSecurityPolicy) TableName() string {
	return "cod_security_policies"
}
